package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts are common pagination/filter options.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets, their bets and per-participant balances.
// Implementations must apply CreditBet atomically: the bet row and the
// balance increment are committed together or not at all.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
	CreditBet(ctx context.Context, bet Bet) error
	MarkResolved(ctx context.Context, id string, outcome bool, resolvedAt time.Time) error
	GetBalance(ctx context.Context, marketID, participant string) (Balance, error)
	ListBets(ctx context.Context, marketID string) ([]Bet, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Market, error)
}

// PredictionStore persists forecast records.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	List(ctx context.Context, opts ListOpts) ([]Prediction, error)
	// ListDue returns unevaluated predictions whose horizon ended at or
	// before asOf and whose retry time, if any, has passed, ordered by
	// horizon end then id.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]Prediction, error)
	ListEvaluated(ctx context.Context) ([]Prediction, error)
	SetEvaluation(ctx context.Context, id string, actual, accuracy float64, at time.Time) error
	// DeferEvaluation records a failed attempt and hides the prediction from
	// ListDue until retryAt.
	DeferEvaluation(ctx context.Context, id string, retryAt time.Time) error
}

// StakeStore persists stakes and aggregates them per target.
type StakeStore interface {
	Create(ctx context.Context, s Stake) error
	ListByTarget(ctx context.Context, targetID string) ([]Stake, error)
	Summaries(ctx context.Context, targetIDs []string) (map[string]SupportSummary, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SumStakes folds stakes into a SupportSummary.
func SumStakes(stakes []Stake) SupportSummary {
	sum := SupportSummary{TotalSupport: decimal.Zero}
	for _, s := range stakes {
		sum.TotalSupport = sum.TotalSupport.Add(s.Amount)
		sum.SupportersCount++
	}
	return sum
}
