package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
)

func completion(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return b
}

func fakeModel(t *testing.T, content string, check func(req map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if check != nil {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completion(content))
	}))
}

func forecaster(t *testing.T, url string) *Forecaster {
	t.Helper()
	f, err := New(Config{APIKey: "key", BaseURL: url + "/v1", Model: "gpt-test"})
	require.NoError(t, err)
	return f
}

func request() domain.ForecastRequest {
	target := 52500.0
	return domain.ForecastRequest{
		Asset:       "BTC",
		TargetPrice: &target,
		Horizon:     24 * time.Hour,
		MarketData:  domain.MarketData{CurrentPrice: 50000, Volume24h: 1234567.891},
	}
}

func TestEstimate(t *testing.T) {
	srv := fakeModel(t, `{"yesProbability":0.62,"confidence":0.8,"reasoning":" momentum "}`, func(req map[string]any) {
		assert.Equal(t, "gpt-test", req["model"])
		assert.EqualValues(t, 800, req["max_tokens"])
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)
		user := msgs[1].(map[string]any)["content"].(string)
		assert.Contains(t, user, "BTC reaching $52,500.00 (a 5.0% change) within 1 days")
		assert.Contains(t, user, "24h Volume: $1,234,567.89")
	})
	defer srv.Close()

	fc, err := forecaster(t, srv.URL).Estimate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 0.62, fc.Probability)
	assert.Equal(t, 0.8, fc.Confidence)
	assert.Equal(t, "momentum", fc.Reasoning)
}

func TestEstimateOutOfRangeIsUnavailable(t *testing.T) {
	srv := fakeModel(t, `{"yesProbability":1.4,"confidence":0.8,"reasoning":"x"}`, nil)
	defer srv.Close()

	_, err := forecaster(t, srv.URL).Estimate(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrForecastUnavailable)
}

func TestEstimateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := forecaster(t, srv.URL).Estimate(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrForecastUnavailable)
}

func TestParseForecast(t *testing.T) {
	fc, err := parseForecast("```json\n{\"yesProbability\":0.3,\"reasoning\":\"r\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 0.3, fc.Probability)
	assert.Equal(t, 0.5, fc.Confidence)

	_, err = parseForecast(`{"confidence":0.4}`)
	assert.ErrorContains(t, err, "no yesProbability")

	_, err = parseForecast(`{"yesProbability":0.4,"confidence":-1}`)
	assert.ErrorContains(t, err, "confidence")

	_, err = parseForecast("the answer is 0.4")
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k", Provider: ProviderAzure})
	assert.ErrorContains(t, err, "endpoint")
	_, err = New(Config{APIKey: "k", Provider: "other"})
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k", Provider: ProviderAzure, BaseURL: "https://x.openai.azure.com", Model: "deploy"})
	assert.NoError(t, err)
}
