package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/ledger"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, nm ledger.NewMarket) (*domain.Market, error)
	PlaceBet(ctx context.Context, marketID, bettor string, outcome domain.Outcome, amount decimal.Decimal) (*domain.Bet, error)
	ResolveMarket(ctx context.Context, marketID, caller string, outcome domain.Outcome) (*domain.Market, error)
	GetMarket(ctx context.Context, id string) (*domain.Market, error)
	GetBalance(ctx context.Context, marketID, participant string) (domain.Balance, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int64, error)
	ListBets(ctx context.Context, marketID string) ([]domain.Bet, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	markets, total, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type createMarketRequest struct {
	Question    string          `json:"question"`
	Asset       string          `json:"asset"`
	TargetPrice *float64        `json:"targetPrice"`
	EndTime     time.Time       `json:"endTime"`
	YesPrice    *float64        `json:"yesPrice"`
	NoPrice     *float64        `json:"noPrice"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	Creator     string          `json:"creator"`
}

// CreateMarket opens a market. noPrice defaults to 1 - yesPrice.
// POST /markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.YesPrice == nil {
		writeBadRequest(w, "yesPrice is required")
		return
	}
	no := 1 - *req.YesPrice
	if req.NoPrice != nil {
		no = *req.NoPrice
	}

	m, err := h.markets.CreateMarket(r.Context(), ledger.NewMarket{
		Question:    strings.TrimSpace(req.Question),
		Asset:       strings.TrimSpace(req.Asset),
		TargetPrice: req.TargetPrice,
		EndTime:     req.EndTime,
		YesPrice:    *req.YesPrice,
		NoPrice:     no,
		Liquidity:   req.Liquidity,
		Creator:     strings.TrimSpace(req.Creator),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket returns a single market by its ID.
// GET /markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type placeBetRequest struct {
	Bettor  string          `json:"bettor"`
	Outcome domain.Outcome  `json:"outcome"`
	Amount  decimal.Decimal `json:"amount"`
}

// PlaceBet buys shares of one outcome.
// POST /markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	outcome := domain.Outcome(strings.ToLower(string(req.Outcome)))
	bet, err := h.markets.PlaceBet(r.Context(), pathParam(r, "id"), strings.TrimSpace(req.Bettor), outcome, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

type resolveRequest struct {
	Caller  string         `json:"caller"`
	Outcome domain.Outcome `json:"outcome"`
}

// ResolveMarket records the winning outcome; only the creator may call it.
// POST /markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	outcome := domain.Outcome(strings.ToLower(string(req.Outcome)))
	m, err := h.markets.ResolveMarket(r.Context(), pathParam(r, "id"), strings.TrimSpace(req.Caller), outcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListBets returns a market's bets in placement order.
// GET /markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.markets.ListBets(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// GetBalance returns a participant's shares in a market.
// GET /markets/{id}/balances/{participant}
func (h *MarketHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, who := pathParam(r, "id"), pathParam(r, "participant")
	bal, err := h.markets.GetBalance(r.Context(), id, who)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId":    id,
		"participant": who,
		"yesShares":   bal.YesShares,
		"noShares":    bal.NoShares,
	})
}
