package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// PredictionStore implements domain.PredictionStore in memory.
type PredictionStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.Prediction
	order []string
}

// NewPredictionStore creates an empty PredictionStore.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{byID: make(map[string]domain.Prediction)}
}

func (s *PredictionStore) Create(_ context.Context, p domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; ok {
		return fmt.Errorf("memory: create prediction %s: duplicate id: %w", p.ID, domain.ErrStateConflict)
	}
	s.byID[p.ID] = clonePrediction(p)
	s.order = append(s.order, p.ID)
	return nil
}

func (s *PredictionStore) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return domain.Prediction{}, fmt.Errorf("memory: get prediction %s: %w", id, domain.ErrPredictionNotFound)
	}
	return clonePrediction(p), nil
}

// List returns predictions newest first.
func (s *PredictionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Prediction, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		p := s.byID[s.order[i]]
		if !inWindow(p.PredictionTime, opts) {
			continue
		}
		out = append(out, clonePrediction(p))
	}
	return paginate(out, opts), nil
}

func (s *PredictionStore) ListDue(_ context.Context, asOf time.Time, limit int) ([]domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Prediction
	for _, id := range s.order {
		p := s.byID[id]
		if p.Evaluated() || p.HorizonEnd.IsZero() || p.HorizonEnd.After(asOf) {
			continue
		}
		if p.NextAttemptAt != nil && p.NextAttemptAt.After(asOf) {
			continue
		}
		out = append(out, clonePrediction(p))
	}
	slices.SortFunc(out, func(a, b domain.Prediction) int {
		if c := a.HorizonEnd.Compare(b.HorizonEnd); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PredictionStore) DeferEvaluation(_ context.Context, id string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: defer prediction %s: %w", id, domain.ErrPredictionNotFound)
	}
	if p.Evaluated() {
		return fmt.Errorf("memory: defer prediction %s: %w", id, domain.ErrAlreadyEvaluated)
	}
	p.EvalAttempts++
	p.NextAttemptAt = &retryAt
	s.byID[id] = p
	return nil
}

func (s *PredictionStore) ListEvaluated(_ context.Context) ([]domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Prediction
	for _, id := range s.order {
		if p := s.byID[id]; p.Evaluated() {
			out = append(out, clonePrediction(p))
		}
	}
	return out, nil
}

// SetEvaluation records the realized price once.
func (s *PredictionStore) SetEvaluation(_ context.Context, id string, actual, accuracy float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: evaluate prediction %s: %w", id, domain.ErrPredictionNotFound)
	}
	if p.Evaluated() {
		return fmt.Errorf("memory: evaluate prediction %s: %w", id, domain.ErrAlreadyEvaluated)
	}
	p.ActualPrice = &actual
	p.Accuracy = &accuracy
	p.EvaluatedAt = &at
	s.byID[id] = p
	return nil
}

func clonePrediction(p domain.Prediction) domain.Prediction {
	if p.ActualPrice != nil {
		v := *p.ActualPrice
		p.ActualPrice = &v
	}
	if p.Accuracy != nil {
		v := *p.Accuracy
		p.Accuracy = &v
	}
	if p.EvaluatedAt != nil {
		v := *p.EvaluatedAt
		p.EvaluatedAt = &v
	}
	if p.MarketData != nil {
		v := *p.MarketData
		p.MarketData = &v
	}
	if p.NextAttemptAt != nil {
		v := *p.NextAttemptAt
		p.NextAttemptAt = &v
	}
	return p
}

var _ domain.PredictionStore = (*PredictionStore)(nil)
