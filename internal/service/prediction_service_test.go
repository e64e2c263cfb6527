package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/ledger"
	"github.com/alanyoungcy/predictx/internal/messaging/local"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/store/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeMarketData struct {
	mu      sync.Mutex
	price   float64
	err     error
	calls   int
	unknown map[string]bool
}

func (f *fakeMarketData) GetMarketData(_ context.Context, asset string) (domain.MarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.unknown[asset] {
		return domain.MarketData{}, fmt.Errorf("quote %s: %w", asset, domain.ErrAssetNotFound)
	}
	if f.err != nil {
		return domain.MarketData{}, f.err
	}
	return domain.MarketData{CurrentPrice: f.price, PercentChange24h: 1.5}, nil
}

func (f *fakeMarketData) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

type fakeForecast struct {
	forecast domain.Forecast
	err      error
	last     domain.ForecastRequest
	block    bool
}

func (f *fakeForecast) Estimate(ctx context.Context, req domain.ForecastRequest) (domain.Forecast, error) {
	f.last = req
	if f.block {
		<-ctx.Done()
		return domain.Forecast{}, ctx.Err()
	}
	return f.forecast, f.err
}

type fixture struct {
	clock       *clock
	ledger      *ledger.Ledger
	markets     *MarketService
	predictions *PredictionService
	store       *memory.PredictionStore
	audit       *memory.AuditStore
	bus         *local.Bus
	data        *fakeMarketData
	forecast    *fakeForecast
	metrics     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		clock:    &clock{t: start},
		store:    memory.NewPredictionStore(),
		audit:    memory.NewAuditStore(),
		bus:      local.New(100),
		data:     &fakeMarketData{price: 50000},
		forecast: &fakeForecast{forecast: domain.Forecast{Probability: 0.7, Confidence: 0.8, Reasoning: "momentum"}},
		metrics:  metrics.New(),
	}
	f.ledger = ledger.New(memory.NewMarketStore(), ledger.NewLocalLocks(time.Second), ledger.Config{}, logger).
		WithClock(f.clock.Now)
	f.markets = NewMarketService(f.ledger, nil, f.bus, f.audit, logger).WithMetrics(f.metrics)
	f.predictions = NewPredictionService(
		f.markets, f.store, memory.NewStakeStore(), f.data, f.forecast, f.bus, f.audit,
		PredictionConfig{Operator: "operator", ModelID: "gpt", CollaboratorTimeout: 50 * time.Millisecond},
		logger,
	).WithClock(f.clock.Now).WithMetrics(f.metrics)
	return f
}

func TestCreateAIPredictionPricesMarketFromForecast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "btc"})
	require.NoError(t, err)

	m := res.Market
	assert.Equal(t, "BTC", m.Asset)
	assert.Equal(t, "Will BTC reach $52,500.00 by 2026-03-02?", m.Question)
	assert.InDelta(t, 0.7, m.YesPrice, 1e-9)
	assert.InDelta(t, 0.3, m.NoPrice, 1e-9)
	assert.True(t, m.TotalLiquidity.Equal(decimal.NewFromInt(1000)))
	assert.True(t, m.YesLiquidity.Add(m.NoLiquidity).Equal(m.TotalLiquidity))
	assert.Equal(t, "operator", m.Creator)
	assert.Equal(t, start.Add(24*time.Hour), m.EndTime)

	p := res.Prediction
	assert.Equal(t, domain.PredictorAI, p.PredictorType)
	assert.Equal(t, "gpt", p.PredictorID)
	assert.Equal(t, m.ID, p.MarketID)
	assert.InDelta(t, 52500, p.PredictedPrice, 1e-6)
	assert.InDelta(t, 50000, p.CurrentPrice, 1e-6)
	assert.False(t, p.Fallback)
	assert.Equal(t, "momentum", p.Reasoning)
	require.NotNil(t, p.MarketData)

	require.NotNil(t, f.forecast.last.TargetPrice)
	assert.InDelta(t, 52500, *f.forecast.last.TargetPrice, 1e-6)
	assert.Equal(t, 24*time.Hour, f.forecast.last.Horizon)

	stored, err := f.store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, stored.MarketID)
}

func TestCreateAIPredictionHonoursTargetAndDuration(t *testing.T) {
	f := newFixture(t)
	target := 60000.0

	res, err := f.predictions.CreateAIPrediction(context.Background(), AIPredictionRequest{
		Asset: "ETH", TargetPrice: &target, DurationDays: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Will ETH reach $60,000.00 by 2026-03-08?", res.Market.Question)
	assert.Equal(t, 7*24*time.Hour, f.forecast.last.Horizon)
}

func TestCreateAIPredictionFallsBackWhenForecastFails(t *testing.T) {
	f := newFixture(t)
	f.forecast.err = errors.New("model overloaded")

	res, err := f.predictions.CreateAIPrediction(context.Background(), AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)

	assert.Equal(t, 0.5, res.Market.YesPrice)
	assert.Equal(t, 0.5, res.Market.NoPrice)
	assert.True(t, res.Market.YesLiquidity.Equal(decimal.NewFromInt(500)))
	assert.True(t, res.Prediction.Fallback)
	assert.Equal(t, FallbackReasoning, res.Prediction.Reasoning)
	assert.Equal(t, 0.5, res.Prediction.Confidence)
}

func TestCreateAIPredictionFallsBackOnForecastTimeout(t *testing.T) {
	f := newFixture(t)
	f.forecast.block = true

	res, err := f.predictions.CreateAIPrediction(context.Background(), AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)
	assert.True(t, res.Prediction.Fallback)
	assert.Equal(t, 0.5, res.Market.YesPrice)
}

func TestCreateAIPredictionFallsBackWithoutMarketData(t *testing.T) {
	f := newFixture(t)
	f.data.err = domain.ErrAssetNotFound

	res, err := f.predictions.CreateAIPrediction(context.Background(), AIPredictionRequest{Asset: "XYZ"})
	require.NoError(t, err)
	assert.True(t, res.Prediction.Fallback)
	assert.Nil(t, res.Prediction.MarketData)
	assert.Nil(t, res.Market.TargetPrice)
	assert.Equal(t, "Will XYZ rise by 2026-03-02?", res.Market.Question)
}

func TestCreateAIPredictionFallsBackOnOutOfRangeProbability(t *testing.T) {
	f := newFixture(t)
	f.forecast.forecast.Probability = 1.4

	res, err := f.predictions.CreateAIPrediction(context.Background(), AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)
	assert.True(t, res.Prediction.Fallback)
}

func TestCreateAIPredictionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	neg := -1.0
	cases := map[string]AIPredictionRequest{
		"missing asset":     {},
		"negative target":   {Asset: "BTC", TargetPrice: &neg},
		"negative duration": {Asset: "BTC", DurationDays: -1},
		"duration too long": {Asset: "BTC", DurationDays: MaxDurationDays + 1},
		"overflowing days":  {Asset: "BTC", DurationDays: 106752 * 2},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.predictions.CreateAIPrediction(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidParameters)
		})
	}
}

func TestCreateAIPredictionPublishesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)

	msgs, err := f.bus.StreamRead(ctx, EventLog, "0", 10)
	require.NoError(t, err)
	var types []string
	for _, m := range msgs {
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(m.Payload, &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{domain.EventMarketCreated, domain.EventPredictionCreated}, types)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCreateKOLPrediction(t *testing.T) {
	f := newFixture(t)

	p, err := f.predictions.CreateKOLPrediction(context.Background(), KOLPredictionRequest{
		PredictorID:    "alice",
		Asset:          "sol",
		PredictedPrice: 210,
		Confidence:     0.6,
		Reasoning:      "breakout",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PredictorKOL, p.PredictorType)
	assert.Equal(t, "SOL", p.Asset)
	assert.Empty(t, p.MarketID)
	assert.InDelta(t, 50000, p.CurrentPrice, 1e-9)
	assert.Equal(t, start.Add(24*time.Hour), p.HorizonEnd)

	_, err = f.predictions.CreateKOLPrediction(context.Background(), KOLPredictionRequest{Asset: "SOL"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = f.predictions.CreateKOLPrediction(context.Background(), KOLPredictionRequest{
		PredictorID: "alice", Asset: "SOL", PredictedPrice: 210, Confidence: 0.6,
		DurationDays: MaxDurationDays + 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	p, err = f.predictions.CreateKOLPrediction(context.Background(), KOLPredictionRequest{
		PredictorID: "alice", Asset: "SOL", PredictedPrice: 210, Confidence: 0.6,
		DurationDays: MaxDurationDays,
	})
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, MaxDurationDays), p.HorizonEnd)
}

func TestSupportAggregatesOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.predictions.CreateAIPrediction(ctx, AIPredictionRequest{Asset: "BTC"})
	require.NoError(t, err)
	id := res.Prediction.ID

	_, err = f.predictions.Support(ctx, SupportRequest{PredictionID: id, Amount: decimal.NewFromInt(10), SupportAI: true, UserAddress: "0xabc"})
	require.NoError(t, err)
	_, err = f.predictions.Support(ctx, SupportRequest{PredictionID: id, Amount: decimal.RequireFromString("2.5")})
	require.NoError(t, err)

	list, err := f.predictions.ListPredictions(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].TotalSupport.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 2, list[0].SupportersCount)

	one, err := f.predictions.GetPrediction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, one.SupportersCount)
}

func TestSupportErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.predictions.Support(ctx, SupportRequest{PredictionID: "missing", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = f.predictions.Support(ctx, SupportRequest{PredictionID: "x", Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.predictions.Support(ctx, SupportRequest{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestEvaluateScoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.predictions.CreateKOLPrediction(ctx, KOLPredictionRequest{
		PredictorID: "bob", Asset: "BTC", PredictedPrice: 110, Confidence: 0.5,
	})
	require.NoError(t, err)

	got, err := f.predictions.Evaluate(ctx, p.ID, 100)
	require.NoError(t, err)
	require.NotNil(t, got.Accuracy)
	assert.InDelta(t, 0.9, *got.Accuracy, 1e-9)

	_, err = f.predictions.Evaluate(ctx, p.ID, 100)
	assert.ErrorIs(t, err, domain.ErrAlreadyEvaluated)

	_, err = f.predictions.Evaluate(ctx, "missing", 100)
	assert.ErrorIs(t, err, domain.ErrPredictionNotFound)

	q, err := f.predictions.CreateKOLPrediction(ctx, KOLPredictionRequest{
		PredictorID: "bob", Asset: "BTC", PredictedPrice: 110, Confidence: 0.5,
	})
	require.NoError(t, err)
	_, err = f.predictions.Evaluate(ctx, q.ID, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestLeaderboardRanksByMeanAccuracy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(who string, predicted, actual float64) {
		p, err := f.predictions.CreateKOLPrediction(ctx, KOLPredictionRequest{
			PredictorID: who, Asset: "BTC", PredictedPrice: predicted, Confidence: 0.5,
		})
		require.NoError(t, err)
		_, err = f.predictions.Evaluate(ctx, p.ID, actual)
		require.NoError(t, err)
	}
	mk("alice", 100, 100)
	mk("bob", 150, 100)
	mk("bob", 100, 100)

	board, err := f.predictions.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].PredictorID)
	assert.Equal(t, "bob", board[1].PredictorID)
	assert.InDelta(t, 0.75, board[1].MeanAccuracy, 1e-9)
}

func TestQuestion(t *testing.T) {
	end := time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)
	target := 1234567.891
	assert.Equal(t, "Will BTC reach $1,234,567.89 by 2026-12-31?", Question("BTC", &target, end))
	assert.Equal(t, "Will BTC rise by 2026-12-31?", Question("BTC", nil, end))
}
