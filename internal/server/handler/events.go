package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// EventStream is the catch-up log of published events.
type EventStream interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler lets clients replay events they missed while disconnected
// from the websocket feed.
type EventsHandler struct {
	stream EventStream
	name   string
	logger *slog.Logger
}

func NewEventsHandler(stream EventStream, name string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{stream: stream, name: name, logger: logHandler(logger, "events")}
}

type eventEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns events after the given id, oldest first.
// GET /events?after=<id>&limit=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	msgs, err := h.stream.StreamRead(r.Context(), h.name, q.Get("after"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]eventEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, eventEntry{ID: m.ID, Event: m.Payload})
	}
	next := q.Get("after")
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}
