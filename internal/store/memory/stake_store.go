package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// StakeStore implements domain.StakeStore in memory. Stakes reference their
// target by id only, so they survive the target's removal.
type StakeStore struct {
	mu       sync.RWMutex
	byTarget map[string][]domain.Stake
}

// NewStakeStore creates an empty StakeStore.
func NewStakeStore() *StakeStore {
	return &StakeStore{byTarget: make(map[string][]domain.Stake)}
}

func (s *StakeStore) Create(_ context.Context, st domain.Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTarget[st.TargetID] = append(s.byTarget[st.TargetID], st)
	return nil
}

func (s *StakeStore) ListByTarget(_ context.Context, targetID string) ([]domain.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Stake, len(s.byTarget[targetID]))
	copy(out, s.byTarget[targetID])
	return out, nil
}

// Summaries aggregates stakes per target. Targets without stakes get a zero
// summary.
func (s *StakeStore) Summaries(_ context.Context, targetIDs []string) (map[string]domain.SupportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.SupportSummary, len(targetIDs))
	for _, id := range targetIDs {
		out[id] = domain.SumStakes(s.byTarget[id])
	}
	return out, nil
}

var _ domain.StakeStore = (*StakeStore)(nil)
