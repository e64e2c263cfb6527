// Package notify fans market lifecycle alerts out to chat channels
// (Telegram, Discord). Operators choose which event types are forwarded.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every Sender whose event type is
// allowed. An empty allow list forwards everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. A nil *Notifier is valid and sends nothing.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends title/message if event passes the filter. Every sender is
// tried; failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n == nil || len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// MarketResolved announces a resolution.
func (n *Notifier) MarketResolved(ctx context.Context, m domain.Market) error {
	outcome := "NO"
	if m.Outcome {
		outcome = "YES"
	}
	return n.Notify(ctx, domain.EventMarketResolved,
		"Market resolved: "+outcome,
		fmt.Sprintf("%s\nmarket %s", m.Question, m.ID),
	)
}

// PredictionCreated announces a new forecast.
func (n *Notifier) PredictionCreated(ctx context.Context, p domain.Prediction) error {
	title := fmt.Sprintf("New %s prediction: %s", p.PredictorType, p.Asset)
	msg := fmt.Sprintf("current %.2f, predicted %.2f, confidence %.0f%%", p.CurrentPrice, p.PredictedPrice, p.Confidence*100)
	if p.Fallback {
		msg += " (fallback)"
	}
	if p.Reasoning != "" {
		msg += "\n" + p.Reasoning
	}
	return n.Notify(ctx, domain.EventPredictionCreated, title, msg)
}

// PredictionEvaluated announces an accuracy score.
func (n *Notifier) PredictionEvaluated(ctx context.Context, p domain.Prediction) error {
	if !p.Evaluated() {
		return nil
	}
	return n.Notify(ctx, domain.EventPredictionEvaluated,
		fmt.Sprintf("Prediction scored: %s %s", p.Asset, p.PredictorID),
		fmt.Sprintf("predicted %.2f, actual %.2f, accuracy %.3f", p.PredictedPrice, *p.ActualPrice, *p.Accuracy),
	)
}
