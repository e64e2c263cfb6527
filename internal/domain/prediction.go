package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PredictorType identifies who produced a forecast.
type PredictorType string

const (
	PredictorAI  PredictorType = "AI"
	PredictorKOL PredictorType = "KOL"
)

// MarketData is a point-in-time quote for an asset.
type MarketData struct {
	CurrentPrice     float64 `json:"current_price"`
	MarketCap        float64 `json:"market_cap"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange1h  float64 `json:"percent_change_1h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	PercentChange7d  float64 `json:"percent_change_7d"`
}

// Prediction is a forecast record. AI predictions back a market; KOL
// predictions usually do not.
type Prediction struct {
	ID             string        `json:"id"`
	Asset          string        `json:"asset"`
	PredictorType  PredictorType `json:"predictorType"`
	PredictorID    string        `json:"predictorId"`
	CurrentPrice   float64       `json:"currentPrice"`
	PredictedPrice float64       `json:"predictedPrice"`
	YesProbability float64       `json:"yesProbability"`
	Confidence     float64       `json:"confidence"`
	Reasoning      string        `json:"reasoning"`
	Fallback       bool          `json:"fallback"`
	MarketID       string        `json:"marketId,omitempty"`
	MarketData     *MarketData   `json:"marketData,omitempty"`
	PredictionTime time.Time     `json:"predictionTime"`
	HorizonEnd     time.Time     `json:"horizonEnd"`
	ActualPrice    *float64      `json:"actualPrice,omitempty"`
	Accuracy       *float64      `json:"accuracy,omitempty"`
	EvaluatedAt    *time.Time    `json:"evaluatedAt,omitempty"`
	// EvalAttempts counts failed evaluation attempts; NextAttemptAt holds the
	// prediction out of the due list until then.
	EvalAttempts   int           `json:"evalAttempts,omitempty"`
	NextAttemptAt  *time.Time    `json:"nextAttemptAt,omitempty"`
}

// Evaluated reports whether an actual price has been recorded.
func (p Prediction) Evaluated() bool {
	return p.ActualPrice != nil && p.Accuracy != nil
}

// Stake records an amount backing one side of a prediction or market.
// Stakes are created once and never mutated.
type Stake struct {
	ID        string          `json:"id"`
	TargetID  string          `json:"predictionId"`
	Supporter string          `json:"userAddress"`
	Amount    decimal.Decimal `json:"amount"`
	SupportAI bool            `json:"supportAi"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SupportSummary aggregates the stakes recorded against one target.
type SupportSummary struct {
	TotalSupport    decimal.Decimal `json:"totalSupport"`
	SupportersCount int             `json:"supportersCount"`
}

// EnrichedPrediction is a prediction plus its aggregated support.
type EnrichedPrediction struct {
	Prediction
	SupportSummary
}

// LeaderboardEntry ranks a predictor by mean accuracy.
type LeaderboardEntry struct {
	PredictorID   string        `json:"predictorId"`
	PredictorType PredictorType `json:"predictorType"`
	Evaluated     int           `json:"evaluated"`
	MeanAccuracy  float64       `json:"meanAccuracy"`
	BestAccuracy  float64       `json:"bestAccuracy"`
}
