package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/service"
)

// PredictionService is the subset of service.PredictionService the
// prediction endpoints use.
type PredictionService interface {
	CreateAIPrediction(ctx context.Context, req service.AIPredictionRequest) (*service.AIPrediction, error)
	CreateKOLPrediction(ctx context.Context, req service.KOLPredictionRequest) (*domain.Prediction, error)
	ListPredictions(ctx context.Context, opts domain.ListOpts) ([]domain.EnrichedPrediction, error)
	GetPrediction(ctx context.Context, id string) (*domain.EnrichedPrediction, error)
	Support(ctx context.Context, req service.SupportRequest) (*domain.Stake, error)
	Evaluate(ctx context.Context, id string, actual float64) (*domain.Prediction, error)
	Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

// PredictionHandler serves forecasts, support and the leaderboard.
type PredictionHandler struct {
	predictions PredictionService
	logger      *slog.Logger
}

func NewPredictionHandler(predictions PredictionService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		logger:      logHandler(logger, "prediction"),
	}
}

// ListPredictions returns predictions with aggregated support.
// GET /predictions
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	preds, err := h.predictions.ListPredictions(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if preds == nil {
		preds = []domain.EnrichedPrediction{}
	}
	writeJSON(w, http.StatusOK, preds)
}

// GetPrediction returns one prediction with its support.
// GET /predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := h.predictions.GetPrediction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type aiPredictionRequest struct {
	Asset        string   `json:"asset"`
	TargetPrice  *float64 `json:"targetPrice"`
	DurationDays int      `json:"durationDays"`
}

// CreateAIPrediction creates a forecast and its market. A failed forecast
// still answers 201 with a neutral market.
// POST /predictions/ai
func (h *PredictionHandler) CreateAIPrediction(w http.ResponseWriter, r *http.Request) {
	var req aiPredictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Asset) == "" {
		writeBadRequest(w, "asset is required")
		return
	}
	res, err := h.predictions.CreateAIPrediction(r.Context(), service.AIPredictionRequest{
		Asset:        req.Asset,
		TargetPrice:  req.TargetPrice,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type kolPredictionRequest struct {
	PredictorID    string   `json:"predictorId"`
	Asset          string   `json:"asset"`
	PredictedPrice float64  `json:"predictedPrice"`
	CurrentPrice   *float64 `json:"currentPrice"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	DurationDays   int      `json:"durationDays"`
}

// CreateKOLPrediction records a human forecast.
// POST /predictions/kol
func (h *PredictionHandler) CreateKOLPrediction(w http.ResponseWriter, r *http.Request) {
	var req kolPredictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	p, err := h.predictions.CreateKOLPrediction(r.Context(), service.KOLPredictionRequest(req))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type evaluateRequest struct {
	ActualPrice *float64 `json:"actualPrice"`
}

// Evaluate scores a prediction against the realized price.
// POST /predictions/{id}/evaluate
func (h *PredictionHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.ActualPrice == nil {
		writeBadRequest(w, "actualPrice is required")
		return
	}
	p, err := h.predictions.Evaluate(r.Context(), pathParam(r, "id"), *req.ActualPrice)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Leaderboard ranks predictors by mean accuracy.
// GET /leaderboard
func (h *PredictionHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.predictions.Leaderboard(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
