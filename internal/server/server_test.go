package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/ledger"
	"github.com/alanyoungcy/predictx/internal/messaging/local"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/server/handler"
	"github.com/alanyoungcy/predictx/internal/service"
	"github.com/alanyoungcy/predictx/internal/store/memory"
)

type staticMarketData struct{ price float64 }

func (s staticMarketData) GetMarketData(context.Context, string) (domain.MarketData, error) {
	return domain.MarketData{CurrentPrice: s.price}, nil
}

type failingForecast struct{}

func (failingForecast) Estimate(context.Context, domain.ForecastRequest) (domain.Forecast, error) {
	return domain.Forecast{}, domain.ErrForecastUnavailable
}

// brokenMarketStore fails every write.
type brokenMarketStore struct{ *memory.MarketStore }

func (brokenMarketStore) Create(context.Context, domain.Market) error {
	return errors.New("disk full")
}

type testEnv struct {
	handler http.Handler
	trigger chan struct{}

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T, store domain.MarketStore, apiKey string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := local.New(100)
	m := metrics.New()
	env := &testEnv{trigger: make(chan struct{}, 1), now: time.Now().UTC()}

	l := ledger.New(store, ledger.NewLocalLocks(time.Second), ledger.Config{}, logger).WithClock(env.clock)
	markets := service.NewMarketService(l, nil, bus, memory.NewAuditStore(), logger).WithMetrics(m)
	predictions := service.NewPredictionService(
		markets, memory.NewPredictionStore(), memory.NewStakeStore(),
		staticMarketData{price: 50000}, failingForecast{}, bus, nil,
		service.PredictionConfig{Operator: "operator", CollaboratorTimeout: time.Second},
		logger,
	).WithClock(env.clock).WithMetrics(m)

	srv := NewServer(
		Config{APIKey: apiKey},
		Handlers{
			Health:      handler.NewHealthHandler("api", "test", nil, logger),
			Markets:     handler.NewMarketHandler(markets, logger),
			Predictions: handler.NewPredictionHandler(predictions, logger),
			Events:      handler.NewEventsHandler(bus, service.EventLog, logger),
			Pipeline:    handler.NewPipelineHandler(env.trigger, logger),
		},
		Deps{Metrics: m},
		logger,
	)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateAIPredictionRequiresAsset(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	rec, body := env.do(t, http.MethodPost, "/predictions/ai", `{"durationDays":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(domain.KindInvalidParameters), body["kind"])
}

func TestCreateAIPredictionFallsBackToEvenOdds(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	rec, body := env.do(t, http.MethodPost, "/predictions/ai", `{"asset":"btc","durationDays":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	market := body["market"].(map[string]any)
	assert.InDelta(t, 0.5, market["yesPrice"], 1e-9)
	assert.InDelta(t, 0.5, market["noPrice"], 1e-9)
	pred := body["prediction"].(map[string]any)
	assert.Equal(t, service.FallbackReasoning, pred["reasoning"])
	assert.Equal(t, true, pred["fallback"])

	id := market["id"].(string)
	rec, got := env.do(t, http.MethodGet, "/markets/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC", got["asset"])

	rec, events := env.do(t, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, events["events"])
	assert.NotEmpty(t, events["next"])
}

func TestSupportUnknownPrediction(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	rec, body := env.do(t, http.MethodPost, "/support", `{"predictionId":"nope","amount":"5","supportAi":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(domain.KindNotFound), body["kind"])
}

func TestSupportMissingFields(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	rec, body := env.do(t, http.MethodPost, "/support", `{"predictionId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "amount")
	assert.Contains(t, body["error"], "supportAi")
}

func TestSupportRecordsStake(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	_, created := env.do(t, http.MethodPost, "/predictions/ai", `{"asset":"eth"}`)
	predID := created["prediction"].(map[string]any)["id"].(string)

	rec, stake := env.do(t, http.MethodPost, "/support", `{"predictionId":"`+predID+`","amount":"5","supportAi":false}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "anonymous", stake["userAddress"])
}

func TestLedgerFailureIsMasked(t *testing.T) {
	env := newTestEnv(t, brokenMarketStore{memory.NewMarketStore()}, "")
	rec, body := env.do(t, http.MethodPost, "/predictions/ai", `{"asset":"btc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"])
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec, m := env.do(t, http.MethodPost, "/markets",
		`{"question":"Will BTC hit 100k?","asset":"BTC","endTime":"`+end+`","yesPrice":0.6,"liquidity":"1000","creator":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.InDelta(t, 0.4, m["noPrice"], 1e-9)
	id := m["id"].(string)

	rec, _ = env.do(t, http.MethodPost, "/markets/"+id+"/bets", `{"bettor":"bob","outcome":"yes","amount":"60"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = env.do(t, http.MethodPost, "/markets/"+id+"/resolve", `{"caller":"bob","outcome":"yes"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/markets/"+id+"/resolve", `{"caller":"alice","outcome":"yes"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "too early")

	env.advance(2 * time.Hour)
	rec, resolved := env.do(t, http.MethodPost, "/markets/"+id+"/resolve", `{"caller":"alice","outcome":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, resolved["resolved"])

	rec, _ = env.do(t, http.MethodPost, "/markets/"+id+"/bets", `{"bettor":"bob","outcome":"no","amount":"10"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, bal := env.do(t, http.MethodGet, "/markets/"+id+"/balances/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", bal["yesShares"])
}

func TestAuthGuardsMutations(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "secret")

	rec, body := env.do(t, http.MethodPost, "/predictions/ai", `{"asset":"btc"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(domain.KindUnauthorized), body["kind"])

	rec, _ = env.do(t, http.MethodPost, "/predictions/ai", `{"asset":"btc"}`, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/leaderboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerEvaluationQueuesOnce(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	rec, body := env.do(t, http.MethodPost, "/admin/evaluate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["queued"])

	_, body = env.do(t, http.MethodPost, "/admin/evaluate", "")
	assert.Equal(t, false, body["queued"])
	assert.Len(t, env.trigger, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, memory.NewMarketStore(), "")
	env.do(t, http.MethodGet, "/health", "")
	rec, _ := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "predictx_http_request_duration_seconds")
}
