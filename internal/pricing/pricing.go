// Package pricing converts a probability estimate into fixed yes/no share
// prices and a seed liquidity split. Prices encode the probability directly;
// there is no market-maker curve.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// NeutralProbability is used when no model estimate is available.
const NeutralProbability = 0.5

// PriceTolerance bounds |yes+no-1| for externally supplied prices.
const PriceTolerance = 1e-6

// Quote is the pricing of a new market.
type Quote struct {
	Probability  float64
	YesPrice     float64
	NoPrice      float64
	Liquidity    decimal.Decimal
	YesLiquidity decimal.Decimal
	NoLiquidity  decimal.Decimal
	// Fallback marks a neutral quote produced without a model estimate.
	Fallback bool
}

// Compute prices a market for probability p with liquidity budget l.
func Compute(p float64, l decimal.Decimal) (Quote, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Quote{}, fmt.Errorf("pricing: p=%v: %w", p, domain.ErrInvalidProbability)
	}
	if !l.IsPositive() {
		return Quote{}, fmt.Errorf("pricing: liquidity %s must be positive: %w", l, domain.ErrInvalidParameters)
	}

	yesLiq := l.Mul(decimal.NewFromFloat(p))
	return Quote{
		Probability:  p,
		YesPrice:     p,
		NoPrice:      1 - p,
		Liquidity:    l,
		YesLiquidity: yesLiq,
		NoLiquidity:  l.Sub(yesLiq),
	}, nil
}

// Neutral returns the 50/50 fallback quote for liquidity l.
func Neutral(l decimal.Decimal) (Quote, error) {
	q, err := Compute(NeutralProbability, l)
	if err != nil {
		return Quote{}, err
	}
	q.Fallback = true
	return q, nil
}

// ValidatePrices checks externally supplied yes/no prices.
func ValidatePrices(yes, no float64) error {
	for _, v := range []float64{yes, no} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("pricing: price %v outside [0,1]: %w", v, domain.ErrInvalidParameters)
		}
	}
	if math.Abs(yes+no-1) > PriceTolerance {
		return fmt.Errorf("pricing: yes %v + no %v != 1: %w", yes, no, domain.ErrInvalidParameters)
	}
	return nil
}

// Clamp bounds an upstream estimate to [0,1]. NaN becomes the neutral value.
func Clamp(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return NeutralProbability
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
