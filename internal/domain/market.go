package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is one of the two binary outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Bool returns true for OutcomeYes, matching the on-chain resolve(bool) call.
func (o Outcome) Bool() bool {
	return o == OutcomeYes
}

// OutcomeFromBool converts a boolean yes/no flag to an Outcome.
func OutcomeFromBool(yes bool) Outcome {
	if yes {
		return OutcomeYes
	}
	return OutcomeNo
}

// Market is a single binary-outcome forecast accepting bets on Yes/No.
// Prices are fixed at creation; there is no re-pricing after that.
type Market struct {
	ID              string          `json:"id"`
	Question        string          `json:"question"`
	Asset           string          `json:"asset"`
	TargetPrice     *float64        `json:"targetPrice,omitempty"`
	EndTime         time.Time       `json:"endTime"`
	YesPrice        float64         `json:"yesPrice"`
	NoPrice         float64         `json:"noPrice"`
	TotalLiquidity  decimal.Decimal `json:"totalLiquidity"`
	YesLiquidity    decimal.Decimal `json:"yesLiquidity"`
	NoLiquidity     decimal.Decimal `json:"noLiquidity"`
	Resolved        bool            `json:"resolved"`
	Outcome         bool            `json:"outcome"`
	Creator         string          `json:"creator"`
	ContractAddress string          `json:"contractAddress,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
}

// AcceptsBets reports whether a bet placed at now would be accepted.
func (m Market) AcceptsBets(now time.Time) bool {
	return !m.Resolved && now.Before(m.EndTime)
}

// PriceOf returns the fixed unit price of the given outcome's shares.
func (m Market) PriceOf(o Outcome) float64 {
	if o == OutcomeYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// Balance is a participant's share holding in one market.
type Balance struct {
	YesShares decimal.Decimal `json:"yesShares"`
	NoShares  decimal.Decimal `json:"noShares"`
}

// Total returns yes plus no shares.
func (b Balance) Total() decimal.Decimal {
	return b.YesShares.Add(b.NoShares)
}

// Bet is an accepted purchase of shares. Bets are append-only.
type Bet struct {
	ID       string          `json:"id"`
	MarketID string          `json:"marketId"`
	Bettor   string          `json:"bettor"`
	Outcome  Outcome         `json:"outcome"`
	Shares   decimal.Decimal `json:"shares"`
	Price    float64         `json:"price"`
	Cost     decimal.Decimal `json:"cost"`
	TxHash   string          `json:"txHash,omitempty"`
	PlacedAt time.Time       `json:"placedAt"`
}
