package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind sentinels. Every error returned by the core wraps exactly one of them.
var (
	ErrInvalidParameters       = errors.New("invalid parameters")
	ErrNotFound                = errors.New("not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrStateConflict           = errors.New("state conflict")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrCollaboratorTimeout     = errors.New("collaborator timeout")
	ErrRateLimited             = errors.New("rate limit exceeded")
	ErrInternal                = errors.New("internal error")
)

var (
	ErrMarketNotFound     = fmt.Errorf("market %w", ErrNotFound)
	ErrPredictionNotFound = fmt.Errorf("prediction %w", ErrNotFound)
	ErrMarketClosed       = fmt.Errorf("market closed: %w", ErrStateConflict)
	ErrTooEarly           = fmt.Errorf("market has not reached its end time: %w", ErrStateConflict)
	ErrAlreadyResolved    = fmt.Errorf("market already resolved: %w", ErrStateConflict)
	ErrAlreadyEvaluated   = fmt.Errorf("prediction already evaluated: %w", ErrStateConflict)
	ErrLockHeld           = fmt.Errorf("lock already held: %w", ErrStateConflict)
	ErrInvalidAmount      = fmt.Errorf("amount must be positive: %w", ErrInvalidParameters)
	ErrInvalidProbability = fmt.Errorf("probability outside [0,1]: %w", ErrInvalidParameters)
	ErrDivisionByZero     = fmt.Errorf("actual value is zero: %w", ErrInvalidParameters)

	ErrForecastUnavailable = fmt.Errorf("forecast %w", ErrCollaboratorUnavailable)
	ErrAssetNotFound       = fmt.Errorf("asset %w", ErrNotFound)
	ErrSourceUnavailable   = fmt.Errorf("market data source %w", ErrCollaboratorUnavailable)
	ErrSettlementFailed    = fmt.Errorf("settlement %w", ErrCollaboratorUnavailable)
)

// Kind classifies an error for callers that need to map it onto a transport
// status (HTTP, CLI exit code).
type Kind string

const (
	KindInvalidParameters       Kind = "InvalidParameters"
	KindNotFound                Kind = "NotFound"
	KindUnauthorized            Kind = "Unauthorized"
	KindStateConflict           Kind = "StateConflict"
	KindCollaboratorUnavailable Kind = "CollaboratorUnavailable"
	KindCollaboratorTimeout     Kind = "CollaboratorTimeout"
	KindRateLimited             Kind = "RateLimited"
	KindInternal                Kind = "Internal"
)

// KindOf returns the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrCollaboratorTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindCollaboratorTimeout
	case errors.Is(err, ErrCollaboratorUnavailable):
		return KindCollaboratorUnavailable
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// CollaboratorError wraps a failure from an external dependency, turning a
// deadline expiry into ErrCollaboratorTimeout and anything else into base.
func CollaboratorError(op string, base, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrCollaboratorTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, base, err)
}
