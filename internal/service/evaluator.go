package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Evaluator scores predictions whose horizon has passed using the latest
// market price, then resolves the backing market when the operator owns it.
type Evaluator struct {
	predictions *PredictionService
	store       domain.PredictionStore
	markets     *MarketService
	marketData  domain.MarketDataSource
	interval    time.Duration
	batch       int
	trigger     <-chan struct{}
	logger      *slog.Logger
}

// NewEvaluator creates an Evaluator polling every interval.
func NewEvaluator(
	predictions *PredictionService,
	store domain.PredictionStore,
	markets *MarketService,
	marketData domain.MarketDataSource,
	interval time.Duration,
	batch int,
	logger *slog.Logger,
) *Evaluator {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Evaluator{
		predictions: predictions,
		store:       store,
		markets:     markets,
		marketData:  marketData,
		interval:    interval,
		batch:       batch,
		logger:      logger.With(slog.String("component", "evaluator")),
	}
}

// WithTrigger makes Run also sweep whenever ch receives.
func (e *Evaluator) WithTrigger(ch <-chan struct{}) *Evaluator {
	e.trigger = ch
	return e
}

// Run polls until ctx is done. Call in a goroutine.
func (e *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.trigger:
			e.logger.InfoContext(ctx, "evaluation sweep triggered")
		}
		if _, err := e.RunOnce(ctx); err != nil {
			e.logger.ErrorContext(ctx, "evaluation pass failed", slog.String("error", err.Error()))
		}
	}
}

// maxRetryBackoff caps how long a failing prediction waits between attempts.
const maxRetryBackoff = 24 * time.Hour

// RunOnce evaluates one batch of due predictions and returns how many were
// scored. A prediction that cannot be scored is deferred with exponential
// backoff so it does not hold its place at the head of the queue.
func (e *Evaluator) RunOnce(ctx context.Context) (int, error) {
	now := e.predictions.now().UTC()
	due, err := e.store.ListDue(ctx, now, e.batch)
	if err != nil {
		return 0, err
	}

	prices := make(map[string]float64)
	lookupErrs := make(map[string]error)
	scored := 0
	for _, p := range due {
		actual, ok := prices[p.Asset]
		if !ok {
			if err, failed := lookupErrs[p.Asset]; failed {
				e.postpone(ctx, p, now, err)
				continue
			}
			md, err := e.predictions.fetchMarketData(ctx, p.Asset)
			if err != nil {
				lookupErrs[p.Asset] = err
				e.postpone(ctx, p, now, err)
				continue
			}
			actual = md.CurrentPrice
			prices[p.Asset] = actual
		}

		evaluated, err := e.predictions.Evaluate(ctx, p.ID, actual)
		if errors.Is(err, domain.ErrAlreadyEvaluated) {
			continue
		}
		if err != nil {
			e.postpone(ctx, p, now, err)
			continue
		}
		scored++

		if evaluated.MarketID != "" {
			e.settle(ctx, *evaluated, actual)
		}
	}
	return scored, nil
}

// retryDelay doubles the poll interval per failed attempt.
func (e *Evaluator) retryDelay(attempts int) time.Duration {
	d := e.interval
	for i := 0; i < attempts && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

func (e *Evaluator) postpone(ctx context.Context, p domain.Prediction, now time.Time, cause error) {
	retryAt := now.Add(e.retryDelay(p.EvalAttempts))
	e.logger.WarnContext(ctx, "evaluation deferred",
		slog.String("prediction_id", p.ID),
		slog.String("asset", p.Asset),
		slog.Int("attempt", p.EvalAttempts+1),
		slog.Time("retry_at", retryAt),
		slog.String("error", cause.Error()),
	)
	if err := e.store.DeferEvaluation(ctx, p.ID, retryAt); err != nil {
		e.logger.ErrorContext(ctx, "recording failed evaluation",
			slog.String("prediction_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// settle resolves an operator-owned market: YES when the realized price is
// at or above the target. Markets asking only about direction compare
// against the price at prediction time.
func (e *Evaluator) settle(ctx context.Context, p domain.Prediction, actual float64) {
	m, err := e.markets.GetMarket(ctx, p.MarketID)
	if err != nil {
		e.logger.WarnContext(ctx, "market lookup failed",
			slog.String("market_id", p.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	operator := e.predictions.Operator()
	if m.Resolved || m.Creator != operator {
		return
	}

	var yes bool
	switch {
	case m.TargetPrice != nil:
		yes = actual >= *m.TargetPrice
	case p.CurrentPrice > 0:
		yes = actual > p.CurrentPrice
	default:
		e.logger.WarnContext(ctx, "market has no reference price, leaving open",
			slog.String("market_id", m.ID),
		)
		return
	}

	_, err = e.markets.ResolveMarket(ctx, m.ID, operator, domain.OutcomeFromBool(yes))
	if err != nil && !errors.Is(err, domain.ErrAlreadyResolved) {
		e.logger.WarnContext(ctx, "auto-resolve failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}
