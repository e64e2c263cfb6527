package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PipelineHandler lets an operator wake the evaluation worker instead of
// waiting for its next tick.
type PipelineHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
}

func NewPipelineHandler(triggerCh chan<- struct{}, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{triggerCh: triggerCh, logger: logHandler(logger, "pipeline")}
}

// TriggerEvaluation enqueues one evaluation sweep. A sweep already pending
// absorbs the request.
// POST /admin/evaluate
func (h *PipelineHandler) TriggerEvaluation(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "evaluation sweep requested")
	queued := false
	if h.triggerCh != nil {
		select {
		case h.triggerCh <- struct{}{}:
			queued = true
		default:
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
