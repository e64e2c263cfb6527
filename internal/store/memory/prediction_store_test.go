package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
)

func TestPredictionStoreListDueOrdersByHorizon(t *testing.T) {
	ctx := context.Background()
	s := NewPredictionStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of horizon order.
	for _, p := range []domain.Prediction{
		{ID: "late", HorizonEnd: base.Add(3 * time.Hour)},
		{ID: "b", HorizonEnd: base.Add(time.Hour)},
		{ID: "a", HorizonEnd: base.Add(time.Hour)},
		{ID: "early", HorizonEnd: base},
		{ID: "future", HorizonEnd: base.Add(48 * time.Hour)},
		{ID: "open"},
	} {
		require.NoError(t, s.Create(ctx, p))
	}

	due, err := s.ListDue(ctx, base.Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "a", "b", "late"}, ids(due))

	due, err = s.ListDue(ctx, base.Add(24*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "a"}, ids(due))
}

func TestPredictionStoreDeferEvaluation(t *testing.T) {
	ctx := context.Background()
	s := NewPredictionStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, domain.Prediction{ID: "p1", HorizonEnd: base}))
	require.NoError(t, s.Create(ctx, domain.Prediction{ID: "p2", HorizonEnd: base.Add(time.Minute)}))

	now := base.Add(time.Hour)
	require.NoError(t, s.DeferEvaluation(ctx, "p1", now.Add(10*time.Minute)))

	due, err := s.ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(due), "a deferred prediction leaves the head of the queue")

	due, err = s.ListDue(ctx, now.Add(10*time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids(due))
	assert.Equal(t, 1, due[0].EvalAttempts)

	require.NoError(t, s.SetEvaluation(ctx, "p2", 1, 1, now))
	assert.ErrorIs(t, s.DeferEvaluation(ctx, "p2", now), domain.ErrAlreadyEvaluated)
	assert.ErrorIs(t, s.DeferEvaluation(ctx, "missing", now), domain.ErrPredictionNotFound)
}

func ids(ps []domain.Prediction) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
