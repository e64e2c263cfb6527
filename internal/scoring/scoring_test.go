package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
)

func TestScore(t *testing.T) {
	s, err := Score(100, 100)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)

	s, err = Score(90, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, s, 1e-12)

	s, err = Score(110, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, s, 1e-12)
}

func TestScoreUnboundedBelow(t *testing.T) {
	s, err := Score(1000, 100)
	require.NoError(t, err)
	assert.InDelta(t, -8.0, s, 1e-12)
}

func TestScoreZeroActual(t *testing.T) {
	_, err := Score(5, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
	assert.Equal(t, domain.KindInvalidParameters, domain.KindOf(err))
}

func ptr(v float64) *float64 { return &v }

func TestLeaderboard(t *testing.T) {
	preds := []domain.Prediction{
		{PredictorType: domain.PredictorAI, PredictorID: "model", ActualPrice: ptr(1), Accuracy: ptr(0.9)},
		{PredictorType: domain.PredictorAI, PredictorID: "model", ActualPrice: ptr(1), Accuracy: ptr(0.7)},
		{PredictorType: domain.PredictorKOL, PredictorID: "alice", ActualPrice: ptr(1), Accuracy: ptr(0.95)},
		{PredictorType: domain.PredictorKOL, PredictorID: "bob", ActualPrice: ptr(1), Accuracy: ptr(-3)},
		{PredictorType: domain.PredictorKOL, PredictorID: "carol"},
	}

	board := Leaderboard(preds)
	require.Len(t, board, 3)

	assert.Equal(t, "alice", board[0].PredictorID)
	assert.Equal(t, "model", board[1].PredictorID)
	assert.Equal(t, 2, board[1].Evaluated)
	assert.InDelta(t, 0.8, board[1].MeanAccuracy, 1e-12)
	assert.Equal(t, 0.9, board[1].BestAccuracy)
	assert.Equal(t, "bob", board[2].PredictorID)
	assert.Equal(t, -3.0, board[2].MeanAccuracy)
}

func TestLeaderboardTieBreak(t *testing.T) {
	preds := []domain.Prediction{
		{PredictorType: domain.PredictorKOL, PredictorID: "zed", ActualPrice: ptr(1), Accuracy: ptr(0.5)},
		{PredictorType: domain.PredictorKOL, PredictorID: "amy", ActualPrice: ptr(1), Accuracy: ptr(0.5)},
		{PredictorType: domain.PredictorKOL, PredictorID: "zed", ActualPrice: ptr(1), Accuracy: ptr(0.5)},
	}

	board := Leaderboard(preds)
	require.Len(t, board, 2)
	assert.Equal(t, "zed", board[0].PredictorID)
	assert.Equal(t, "amy", board[1].PredictorID)
}
