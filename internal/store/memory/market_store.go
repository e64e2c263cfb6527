// Package memory provides process-local implementations of the domain store
// interfaces. They are the default backend and the backend used in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// MarketStore implements domain.MarketStore in memory.
type MarketStore struct {
	mu       sync.RWMutex
	markets  map[string]domain.Market
	order    []string
	bets     map[string][]domain.Bet
	balances map[string]map[string]domain.Balance
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		markets:  make(map[string]domain.Market),
		bets:     make(map[string][]domain.Bet),
		balances: make(map[string]map[string]domain.Balance),
	}
}

// Create inserts a new market. Duplicate ids are rejected.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: duplicate id: %w", m.ID, domain.ErrStateConflict)
	}
	s.markets[m.ID] = cloneMarket(m)
	s.order = append(s.order, m.ID)
	return nil
}

// GetByID returns a copy of the market.
func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrMarketNotFound)
	}
	return cloneMarket(m), nil
}

// List returns markets newest first.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Market, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.markets[s.order[i]]
		if !inWindow(m.CreatedAt, opts) {
			continue
		}
		out = append(out, cloneMarket(m))
	}
	return paginate(out, opts), nil
}

// Count returns the number of markets.
func (s *MarketStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// CreditBet records the bet and increments the bettor's balance in one step.
func (s *MarketStore) CreditBet(_ context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[bet.MarketID]
	if !ok {
		return fmt.Errorf("memory: credit bet on %s: %w", bet.MarketID, domain.ErrMarketNotFound)
	}
	if m.Resolved {
		return fmt.Errorf("memory: credit bet on %s: %w", bet.MarketID, domain.ErrMarketClosed)
	}

	byParticipant := s.balances[bet.MarketID]
	if byParticipant == nil {
		byParticipant = make(map[string]domain.Balance)
		s.balances[bet.MarketID] = byParticipant
	}
	bal := zeroBalance(byParticipant[bet.Bettor])
	switch bet.Outcome {
	case domain.OutcomeYes:
		bal.YesShares = bal.YesShares.Add(bet.Shares)
	case domain.OutcomeNo:
		bal.NoShares = bal.NoShares.Add(bet.Shares)
	default:
		return fmt.Errorf("memory: credit bet on %s: outcome %q: %w", bet.MarketID, bet.Outcome, domain.ErrInvalidParameters)
	}
	byParticipant[bet.Bettor] = bal
	s.bets[bet.MarketID] = append(s.bets[bet.MarketID], bet)
	return nil
}

// MarkResolved flips the market to resolved. A second call fails.
func (s *MarketStore) MarkResolved(_ context.Context, id string, outcome bool, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("memory: resolve market %s: %w", id, domain.ErrMarketNotFound)
	}
	if m.Resolved {
		return fmt.Errorf("memory: resolve market %s: %w", id, domain.ErrAlreadyResolved)
	}
	m.Resolved = true
	m.Outcome = outcome
	at := resolvedAt
	m.ResolvedAt = &at
	s.markets[id] = m
	return nil
}

// GetBalance returns zeros for a participant that never bet.
func (s *MarketStore) GetBalance(_ context.Context, marketID, participant string) (domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.markets[marketID]; !ok {
		return domain.Balance{}, fmt.Errorf("memory: balance on %s: %w", marketID, domain.ErrMarketNotFound)
	}
	return zeroBalance(s.balances[marketID][participant]), nil
}

// ListBets returns the market's bets in placement order.
func (s *MarketStore) ListBets(_ context.Context, marketID string) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.markets[marketID]; !ok {
		return nil, fmt.Errorf("memory: list bets on %s: %w", marketID, domain.ErrMarketNotFound)
	}
	out := make([]domain.Bet, len(s.bets[marketID]))
	copy(out, s.bets[marketID])
	return out, nil
}

// ListResolvedBefore returns markets resolved strictly before the cutoff,
// oldest first.
func (s *MarketStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Market
	for _, m := range s.markets {
		if m.Resolved && m.ResolvedAt != nil && m.ResolvedAt.Before(before) {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(*out[j].ResolvedAt) })
	return out, nil
}

func cloneMarket(m domain.Market) domain.Market {
	if m.TargetPrice != nil {
		v := *m.TargetPrice
		m.TargetPrice = &v
	}
	if m.ResolvedAt != nil {
		v := *m.ResolvedAt
		m.ResolvedAt = &v
	}
	return m
}

func zeroBalance(b domain.Balance) domain.Balance {
	if b.YesShares.IsZero() {
		b.YesShares = decimal.Zero
	}
	if b.NoShares.IsZero() {
		b.NoShares = decimal.Zero
	}
	return b
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
