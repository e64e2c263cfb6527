package domain

import (
	"context"
	"time"
)

// ForecastRequest asks a forecast source about one asset.
type ForecastRequest struct {
	Asset       string
	TargetPrice *float64
	Horizon     time.Duration
	MarketData  MarketData
}

// Forecast is a forecast source's estimate that the asset reaches the target.
type Forecast struct {
	Probability float64
	Confidence  float64
	Reasoning   string
}

// ForecastSource produces a probability estimate. Failures wrap
// ErrForecastUnavailable.
type ForecastSource interface {
	Estimate(ctx context.Context, req ForecastRequest) (Forecast, error)
}

// MarketDataSource returns the latest quote for an asset. Failures wrap
// ErrAssetNotFound or ErrSourceUnavailable.
type MarketDataSource interface {
	GetMarketData(ctx context.Context, asset string) (MarketData, error)
}

// ContractSpec names a deployable contract.
type ContractSpec struct {
	Name     string
	ABI      string
	Bytecode []byte
}

// SettlementBackend mirrors ledger state to a durable external system
// (normally a chain).
type SettlementBackend interface {
	Deploy(ctx context.Context, spec ContractSpec, args ...any) (address string, err error)
	Call(ctx context.Context, address, method string, args ...any) ([]any, error)
}
