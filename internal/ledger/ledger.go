// Package ledger enforces the binary market state machine (Open -> Resolved)
// over a domain.MarketStore, serialising bets and resolution per market and
// optionally mirroring every transition to a settlement backend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/pricing"
)

// NewMarket holds the parameters of CreateMarket.
type NewMarket struct {
	Question    string
	Asset       string
	TargetPrice *float64
	EndTime     time.Time
	YesPrice    float64
	NoPrice     float64
	Liquidity   decimal.Decimal
	Creator     string
}

// Config tunes lock and settlement bounds.
type Config struct {
	// LockTTL bounds how long a distributed per-market lock may be held.
	LockTTL time.Duration
	// SettleTimeout bounds every settlement backend call.
	SettleTimeout time.Duration
}

// Ledger is safe for concurrent use.
type Ledger struct {
	markets domain.MarketStore
	locks   domain.LockManager
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	settlement domain.SettlementBackend
	contract   domain.ContractSpec
	stakeToken string
}

// New creates a Ledger over the given store and lock manager.
func New(markets domain.MarketStore, locks domain.LockManager, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.SettleTimeout + 10*time.Second
	}
	return &Ledger{
		markets: markets,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
	}
}

// WithSettlement mirrors market creation, bets and resolution to backend.
// contract is deployed once per market; stakeToken is passed to its
// constructor.
func (l *Ledger) WithSettlement(backend domain.SettlementBackend, contract domain.ContractSpec, stakeToken string) *Ledger {
	l.settlement = backend
	l.contract = contract
	l.stakeToken = stakeToken
	return l
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CreateMarket validates and persists a new open market.
func (l *Ledger) CreateMarket(ctx context.Context, nm NewMarket) (*domain.Market, error) {
	now := l.now().UTC()
	if err := validateNewMarket(nm, now); err != nil {
		return nil, l.fail(ctx, "create_market", "", nm.Creator, err)
	}
	quote, err := pricing.Compute(nm.YesPrice, nm.Liquidity)
	if err != nil {
		return nil, l.fail(ctx, "create_market", "", nm.Creator, err)
	}

	m := domain.Market{
		ID:             uuid.NewString(),
		Question:       nm.Question,
		Asset:          strings.ToUpper(nm.Asset),
		TargetPrice:    nm.TargetPrice,
		EndTime:        nm.EndTime.UTC(),
		YesPrice:       nm.YesPrice,
		NoPrice:        nm.NoPrice,
		TotalLiquidity: quote.Liquidity,
		YesLiquidity:   quote.YesLiquidity,
		NoLiquidity:    quote.NoLiquidity,
		Creator:        nm.Creator,
		CreatedAt:      now,
	}

	if l.settlement != nil {
		addr, err := l.deploy(ctx, m)
		if err != nil {
			return nil, l.fail(ctx, "create_market", m.ID, nm.Creator, err)
		}
		m.ContractAddress = addr
	}

	if err := l.markets.Create(context.WithoutCancel(ctx), m); err != nil {
		if m.ContractAddress != "" {
			l.logger.ErrorContext(ctx, "ledger: contract deployed but market not stored",
				slog.String("market_id", m.ID),
				slog.String("contract", m.ContractAddress),
			)
		}
		return nil, l.fail(ctx, "create_market", m.ID, nm.Creator, fmt.Errorf("ledger: store market: %w", err))
	}

	l.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("asset", m.Asset),
		slog.Float64("yes_price", m.YesPrice),
		slog.Time("end_time", m.EndTime),
	)
	return &m, nil
}

// PlaceBet buys amount shares of outcome for bettor at the market's fixed
// price. The bet and the balance credit commit together; once the
// settlement backend has accepted the bet the local commit ignores caller
// cancellation.
func (l *Ledger) PlaceBet(ctx context.Context, marketID, bettor string, outcome domain.Outcome, amount decimal.Decimal) (*domain.Bet, error) {
	switch {
	case !amount.IsPositive():
		return nil, l.fail(ctx, "place_bet", marketID, bettor, domain.ErrInvalidAmount)
	case !outcome.Valid():
		return nil, l.fail(ctx, "place_bet", marketID, bettor,
			fmt.Errorf("ledger: outcome %q: %w", outcome, domain.ErrInvalidParameters))
	case strings.TrimSpace(bettor) == "":
		return nil, l.fail(ctx, "place_bet", marketID, bettor,
			fmt.Errorf("ledger: bettor required: %w", domain.ErrInvalidParameters))
	}

	unlock, err := l.locks.Acquire(ctx, lockKey(marketID), l.cfg.LockTTL)
	if err != nil {
		return nil, l.fail(ctx, "place_bet", marketID, bettor, err)
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, l.fail(ctx, "place_bet", marketID, bettor, err)
	}
	now := l.now().UTC()
	if !m.AcceptsBets(now) {
		return nil, l.fail(ctx, "place_bet", marketID, bettor, domain.ErrMarketClosed)
	}

	price := m.PriceOf(outcome)
	bet := domain.Bet{
		ID:       uuid.NewString(),
		MarketID: marketID,
		Bettor:   bettor,
		Outcome:  outcome,
		Shares:   amount,
		Price:    price,
		Cost:     amount.Mul(decimal.NewFromFloat(price)),
		PlacedAt: now,
	}

	if l.settlement != nil && m.ContractAddress != "" {
		method := "buyNo"
		if outcome == domain.OutcomeYes {
			method = "buyYes"
		}
		txHash, err := l.call(ctx, m.ContractAddress, method, scaleStake(amount))
		if err != nil {
			return nil, l.fail(ctx, "place_bet", marketID, bettor, err)
		}
		bet.TxHash = txHash
	}

	if err := l.markets.CreditBet(context.WithoutCancel(ctx), bet); err != nil {
		return nil, l.fail(ctx, "place_bet", marketID, bettor, err)
	}

	l.logger.InfoContext(ctx, "bet placed",
		slog.String("market_id", marketID),
		slog.String("bettor", bettor),
		slog.String("outcome", string(outcome)),
		slog.String("shares", amount.String()),
		slog.String("cost", bet.Cost.String()),
	)
	return &bet, nil
}

// ResolveMarket records the winning outcome. Only the creator may resolve,
// only once, and only at or after the end time.
func (l *Ledger) ResolveMarket(ctx context.Context, marketID, caller string, outcome domain.Outcome) (*domain.Market, error) {
	if !outcome.Valid() {
		return nil, l.fail(ctx, "resolve_market", marketID, caller,
			fmt.Errorf("ledger: outcome %q: %w", outcome, domain.ErrInvalidParameters))
	}

	unlock, err := l.locks.Acquire(ctx, lockKey(marketID), l.cfg.LockTTL)
	if err != nil {
		return nil, l.fail(ctx, "resolve_market", marketID, caller, err)
	}
	defer unlock()

	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, l.fail(ctx, "resolve_market", marketID, caller, err)
	}
	now := l.now().UTC()
	switch {
	case caller != m.Creator:
		return nil, l.fail(ctx, "resolve_market", marketID, caller,
			fmt.Errorf("ledger: only the creator may resolve: %w", domain.ErrUnauthorized))
	case m.Resolved:
		return nil, l.fail(ctx, "resolve_market", marketID, caller, domain.ErrAlreadyResolved)
	case now.Before(m.EndTime):
		return nil, l.fail(ctx, "resolve_market", marketID, caller, domain.ErrTooEarly)
	}

	if l.settlement != nil && m.ContractAddress != "" {
		if _, err := l.call(ctx, m.ContractAddress, "resolve", outcome.Bool()); err != nil {
			return nil, l.fail(ctx, "resolve_market", marketID, caller, err)
		}
	}

	if err := l.markets.MarkResolved(context.WithoutCancel(ctx), marketID, outcome.Bool(), now); err != nil {
		return nil, l.fail(ctx, "resolve_market", marketID, caller, err)
	}
	m.Resolved = true
	m.Outcome = outcome.Bool()
	m.ResolvedAt = &now

	l.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.String("caller", caller),
		slog.Bool("outcome", m.Outcome),
	)
	return &m, nil
}

// GetMarket returns a read-only snapshot.
func (l *Ledger) GetMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	m, err := l.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetBalance returns zero shares for a participant that never bet.
func (l *Ledger) GetBalance(ctx context.Context, marketID, participant string) (domain.Balance, error) {
	return l.markets.GetBalance(ctx, marketID, participant)
}

// ListMarkets returns markets newest first.
func (l *Ledger) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return l.markets.List(ctx, opts)
}

// ListBets returns the bets accepted on a market.
func (l *Ledger) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	return l.markets.ListBets(ctx, marketID)
}

// CountMarkets returns the number of markets.
func (l *Ledger) CountMarkets(ctx context.Context) (int64, error) {
	return l.markets.Count(ctx)
}

func validateNewMarket(nm NewMarket, now time.Time) error {
	var problems []string
	if strings.TrimSpace(nm.Question) == "" {
		problems = append(problems, "question is required")
	}
	if strings.TrimSpace(nm.Creator) == "" {
		problems = append(problems, "creator is required")
	}
	if !nm.EndTime.After(now) {
		problems = append(problems, "end time must be in the future")
	}
	if !nm.Liquidity.IsPositive() {
		problems = append(problems, "liquidity must be positive")
	}
	if nm.TargetPrice != nil && *nm.TargetPrice <= 0 {
		problems = append(problems, "target price must be positive")
	}
	if err := pricing.ValidatePrices(nm.YesPrice, nm.NoPrice); err != nil {
		problems = append(problems, "yes and no prices must lie in [0,1] and sum to 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("ledger: %s: %w", strings.Join(problems, "; "), domain.ErrInvalidParameters)
	}
	return nil
}

// fail logs a rejected or failed transition and returns err unchanged.
func (l *Ledger) fail(ctx context.Context, op, marketID, caller string, err error) error {
	level := slog.LevelWarn
	switch domain.KindOf(err) {
	case domain.KindInternal, domain.KindCollaboratorUnavailable, domain.KindCollaboratorTimeout:
		level = slog.LevelError
	}
	if errors.Is(err, context.Canceled) {
		level = slog.LevelInfo
	}
	l.logger.Log(ctx, level, "ledger: "+op+" failed",
		slog.String("op", op),
		slog.String("market_id", marketID),
		slog.String("caller", caller),
		slog.String("kind", string(domain.KindOf(err))),
		slog.String("error", err.Error()),
	)
	return err
}

func lockKey(marketID string) string {
	return "market:" + marketID
}
