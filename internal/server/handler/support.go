package handler

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/service"
)

type supportRequest struct {
	PredictionID string           `json:"predictionId"`
	Amount       *decimal.Decimal `json:"amount"`
	SupportAI    *bool            `json:"supportAi"`
	UserAddress  string           `json:"userAddress"`
}

// Support records a stake for or against a prediction.
// POST /support
func (h *PredictionHandler) Support(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var missing []string
	if strings.TrimSpace(req.PredictionID) == "" {
		missing = append(missing, "predictionId")
	}
	if req.Amount == nil {
		missing = append(missing, "amount")
	}
	if req.SupportAI == nil {
		missing = append(missing, "supportAi")
	}
	if len(missing) > 0 {
		writeBadRequest(w, "missing fields: "+strings.Join(missing, ", "))
		return
	}

	stake, err := h.predictions.Support(r.Context(), service.SupportRequest{
		PredictionID: strings.TrimSpace(req.PredictionID),
		Amount:       *req.Amount,
		SupportAI:    *req.SupportAI,
		UserAddress:  req.UserAddress,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, stake)
}
