package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/store/memory"
)

type memWriter struct {
	objects   map[string][]byte
	multipart int
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart++
	return w.Put(ctx, path, data, "")
}

func seedMarket(t *testing.T, s *memory.MarketStore, id string, resolvedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.Market{
		ID: id, Question: "q", Asset: "BTC", EndTime: resolvedAt.Add(-time.Hour),
		YesPrice: 0.5, NoPrice: 0.5,
		TotalLiquidity: decimal.NewFromInt(10), YesLiquidity: decimal.NewFromInt(5), NoLiquidity: decimal.NewFromInt(5),
		Creator: "op", CreatedAt: resolvedAt.Add(-48 * time.Hour),
	}))
	require.NoError(t, s.CreditBet(ctx, domain.Bet{
		ID: id + "-bet", MarketID: id, Bettor: "alice", Outcome: domain.OutcomeYes,
		Shares: decimal.NewFromInt(2), Price: 0.5, Cost: decimal.NewFromInt(1), PlacedAt: resolvedAt.Add(-2 * time.Hour),
	}))
	require.NoError(t, s.MarkResolved(ctx, id, true, resolvedAt))
}

func lines(b []byte) []string {
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestArchiveMarketsWritesMarketsAndBets(t *testing.T) {
	ctx := context.Background()
	markets := memory.NewMarketStore()
	audit := memory.NewAuditStore()
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	seedMarket(t, markets, "old", cutoff.Add(-24*time.Hour))
	seedMarket(t, markets, "recent", cutoff.Add(24*time.Hour))

	w := &memWriter{}
	a := NewArchiver(w, markets, memory.NewPredictionStore(), audit)
	n, err := a.ArchiveMarkets(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got := lines(w.objects["archive/markets/2026-02.jsonl"])
	require.Len(t, got, 1)
	var m domain.Market
	require.NoError(t, json.Unmarshal([]byte(got[0]), &m))
	assert.Equal(t, "old", m.ID)

	bets := lines(w.objects["archive/bets/2026-02.jsonl"])
	require.Len(t, bets, 1)
	assert.Contains(t, bets[0], `"old-bet"`)
	assert.Zero(t, w.multipart)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.markets", entries[0].Event)
}

func TestArchiveNothingDue(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, memory.NewMarketStore(), memory.NewPredictionStore(), memory.NewAuditStore())

	n, err := a.ArchiveMarkets(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = a.ArchivePredictions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchivePredictionsOnlyEvaluatedBeforeCutoff(t *testing.T) {
	ctx := context.Background()
	preds := memory.NewPredictionStore()
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, preds.Create(ctx, domain.Prediction{
			ID: id, Asset: "BTC", PredictorType: domain.PredictorKOL, PredictorID: "k",
			PredictedPrice: 100, PredictionTime: cutoff.Add(-72 * time.Hour),
		}))
	}
	require.NoError(t, preds.SetEvaluation(ctx, "a", 100, 1, cutoff.Add(-time.Hour)))
	require.NoError(t, preds.SetEvaluation(ctx, "b", 100, 1, cutoff.Add(time.Hour)))

	w := &memWriter{}
	n, err := NewArchiver(w, memory.NewMarketStore(), preds, memory.NewAuditStore()).ArchivePredictions(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, lines(w.objects["archive/predictions/2026-02.jsonl"]), 1)
}

func TestMarshalJSONLDoesNotEscapeHTML(t *testing.T) {
	b, err := marshalJSONL([]map[string]string{{"q": "<a & b>"}, {"q": "c"}})
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(b, []byte("\n")))
	assert.Contains(t, string(b), "<a & b>")
}
