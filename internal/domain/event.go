package domain

// Bus channels.
const (
	ChannelMarkets     = "markets"
	ChannelBets        = "bets"
	ChannelPredictions = "predictions"
)

// Event types carried on the bus.
const (
	EventMarketCreated       = "market_created"
	EventBetPlaced           = "bet_placed"
	EventMarketResolved      = "market_resolved"
	EventPredictionCreated   = "prediction_created"
	EventPredictionEvaluated = "prediction_evaluated"
	EventStakeRecorded       = "stake_recorded"
)

// Event is the JSON envelope published on the bus and forwarded to
// websocket clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
