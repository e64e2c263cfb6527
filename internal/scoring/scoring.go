// Package scoring rates forecasts against realized prices.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Score returns 1 - |predicted-actual|/actual. It is 1 for a perfect
// prediction and unbounded below; callers choose their own display floor.
func Score(predicted, actual float64) (float64, error) {
	if actual == 0 {
		return 0, fmt.Errorf("scoring: score %v against 0: %w", predicted, domain.ErrDivisionByZero)
	}
	if math.IsNaN(predicted) || math.IsNaN(actual) {
		return 0, fmt.Errorf("scoring: NaN input: %w", domain.ErrInvalidParameters)
	}
	return 1 - math.Abs(predicted-actual)/actual, nil
}

// Leaderboard ranks predictors by mean accuracy over their evaluated
// predictions. Unevaluated predictions are ignored. Ties are broken by the
// number of evaluated predictions, then by predictor id.
func Leaderboard(predictions []domain.Prediction) []domain.LeaderboardEntry {
	type acc struct {
		entry domain.LeaderboardEntry
		sum   float64
	}
	byPredictor := make(map[string]*acc)
	for _, p := range predictions {
		if !p.Evaluated() {
			continue
		}
		key := string(p.PredictorType) + "/" + p.PredictorID
		a, ok := byPredictor[key]
		if !ok {
			a = &acc{entry: domain.LeaderboardEntry{
				PredictorID:   p.PredictorID,
				PredictorType: p.PredictorType,
				BestAccuracy:  math.Inf(-1),
			}}
			byPredictor[key] = a
		}
		a.sum += *p.Accuracy
		a.entry.Evaluated++
		if *p.Accuracy > a.entry.BestAccuracy {
			a.entry.BestAccuracy = *p.Accuracy
		}
	}

	out := make([]domain.LeaderboardEntry, 0, len(byPredictor))
	for _, a := range byPredictor {
		a.entry.MeanAccuracy = a.sum / float64(a.entry.Evaluated)
		out = append(out, a.entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanAccuracy != out[j].MeanAccuracy {
			return out[i].MeanAccuracy > out[j].MeanAccuracy
		}
		if out[i].Evaluated != out[j].Evaluated {
			return out[i].Evaluated > out[j].Evaluated
		}
		return out[i].PredictorID < out[j].PredictorID
	})
	return out
}
