package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// EventLog is the stream that mirrors every published event for catch-up
// reads.
const EventLog = "events"

// sideEffects bundles the best-effort outputs of a state change: bus
// events and the audit log. Failures are logged and never returned.
type sideEffects struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

func (s sideEffects) publish(ctx context.Context, channel, eventType string, data any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{Type: eventType, Data: data})
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, EventLog, payload); err != nil {
		s.logger.WarnContext(ctx, "append event log failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func (s sideEffects) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
