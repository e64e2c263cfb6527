package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
)

func newEvaluator(f *fixture) *Evaluator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEvaluator(f.predictions, f.store, f.markets, f.data, time.Minute, 10, logger)
}

func TestEvaluatorScoresDuePredictionsAndResolvesMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)

	ev := newEvaluator(f)
	n, err := ev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "horizon not reached")

	f.clock.Advance(24 * time.Hour)
	f.data.setPrice(55000)
	n, err = ev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := f.store.GetByID(ctx, res.Prediction.ID)
	require.NoError(t, err)
	require.True(t, p.Evaluated())
	assert.InDelta(t, 55000, *p.ActualPrice, 1e-9)

	m, err := f.markets.GetMarket(ctx, res.Market.ID)
	require.NoError(t, err)
	assert.True(t, m.Resolved)
	assert.True(t, m.Outcome, "55000 >= 52500 resolves YES")

	n, err = ev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already evaluated")
}

func TestEvaluatorResolvesNoBelowTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	f.data.setPrice(51000)
	_, err = newEvaluator(f).RunOnce(ctx)
	require.NoError(t, err)

	m, err := f.markets.GetMarket(ctx, res.Market.ID)
	require.NoError(t, err)
	assert.True(t, m.Resolved)
	assert.False(t, m.Outcome)
}

func TestEvaluatorSkipsWhenPriceUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	f.data.err = domain.ErrSourceUnavailable
	n, err := newEvaluator(f).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	m, err := f.markets.GetMarket(ctx, res.Market.ID)
	require.NoError(t, err)
	assert.False(t, m.Resolved)
}

func TestEvaluatorFetchesEachAssetOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.predictions.CreateKOLPrediction(ctx, KOLPredictionRequest{
			PredictorID: "carol", Asset: "ETH", PredictedPrice: 3000, Confidence: 0.4,
		})
		require.NoError(t, err)
	}
	f.clock.Advance(48 * time.Hour)
	before := f.data.calls

	n, err := newEvaluator(f).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, before+1, f.data.calls)
}

func TestEvaluatorRunSweepsOnTrigger(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	trigger := make(chan struct{}, 1)
	ev := NewEvaluator(f.predictions, f.store, f.markets, f.data, time.Hour, 10,
		slog.New(slog.NewTextHandler(io.Discard, nil))).WithTrigger(trigger)
	done := make(chan error, 1)
	go func() { done <- ev.Run(ctx) }()

	trigger <- struct{}{}
	require.Eventually(t, func() bool {
		p, err := f.store.GetByID(context.Background(), res.Prediction.ID)
		return err == nil && p.Evaluated()
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEvaluatorDefersFailuresSoNewerPredictionsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.data.unknown = map[string]bool{"DEAD": true}

	var dead []string
	for i := 0; i < 10; i++ {
		p, err := f.predictions.CreateKOLPrediction(ctx, KOLPredictionRequest{
			PredictorID: "mallory", Asset: "dead", PredictedPrice: 1, Confidence: 0.5,
		})
		require.NoError(t, err)
		dead = append(dead, p.ID)
	}
	f.clock.Advance(time.Hour)
	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)

	ev := newEvaluator(f)
	before := f.data.calls
	n, err := ev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the batch is all unpriceable predictions")
	assert.Equal(t, before+1, f.data.calls, "a failed asset is looked up once per pass")

	n, err = ev.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := f.store.GetByID(ctx, res.Prediction.ID)
	require.NoError(t, err)
	assert.True(t, p.Evaluated())
	m, err := f.markets.GetMarket(ctx, res.Market.ID)
	require.NoError(t, err)
	assert.True(t, m.Resolved)

	stuck, err := f.store.GetByID(ctx, dead[0])
	require.NoError(t, err)
	assert.False(t, stuck.Evaluated())
	assert.Equal(t, 1, stuck.EvalAttempts)
	require.NotNil(t, stuck.NextAttemptAt)
	assert.Equal(t, f.clock.Now().Add(time.Minute), *stuck.NextAttemptAt)

	// The retry delay doubles after each failure.
	f.clock.Advance(time.Minute)
	_, err = ev.RunOnce(ctx)
	require.NoError(t, err)
	stuck, err = f.store.GetByID(ctx, dead[0])
	require.NoError(t, err)
	assert.Equal(t, 2, stuck.EvalAttempts)
	assert.Equal(t, f.clock.Now().Add(2*time.Minute), *stuck.NextAttemptAt)
}

func TestEvaluatorRetryDelayIsCapped(t *testing.T) {
	ev := newEvaluator(newFixture(t))
	assert.Equal(t, time.Minute, ev.retryDelay(0))
	assert.Equal(t, 8*time.Minute, ev.retryDelay(3))
	assert.Equal(t, maxRetryBackoff, ev.retryDelay(40))
}
