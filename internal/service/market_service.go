package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/ledger"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/notify"
)

// MarketService fronts the ledger with a read-through cache, bus events,
// audit logging, notifications and metrics.
type MarketService struct {
	ledger   *ledger.Ledger
	cache    domain.MarketCache
	effects  sideEffects
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. cache, bus and audit may be nil.
func NewMarketService(
	l *ledger.Ledger,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	logger = logger.With(slog.String("component", "market_service"))
	return &MarketService{
		ledger:  l,
		cache:   cache,
		effects: sideEffects{bus: bus, audit: audit, logger: logger},
		logger:  logger,
	}
}

// WithNotifier enables chat notifications on resolution.
func (s *MarketService) WithNotifier(n *notify.Notifier) *MarketService {
	s.notifier = n
	return s
}

// WithMetrics enables Prometheus counters.
func (s *MarketService) WithMetrics(m *metrics.Metrics) *MarketService {
	s.metrics = m
	return s
}

// CreateMarket opens a new market.
func (s *MarketService) CreateMarket(ctx context.Context, nm ledger.NewMarket) (*domain.Market, error) {
	m, err := s.ledger.CreateMarket(ctx, nm)
	if err != nil {
		return nil, err
	}
	s.metrics.MarketCreated()
	s.refresh(ctx, *m)
	s.effects.publish(ctx, domain.ChannelMarkets, domain.EventMarketCreated, m)
	s.effects.record(ctx, "market_created", map[string]any{
		"market_id": m.ID,
		"asset":     m.Asset,
		"creator":   m.Creator,
		"yes_price": m.YesPrice,
		"liquidity": m.TotalLiquidity.String(),
	})
	return m, nil
}

// PlaceBet buys shares on one side of a market.
func (s *MarketService) PlaceBet(ctx context.Context, marketID, bettor string, outcome domain.Outcome, amount decimal.Decimal) (*domain.Bet, error) {
	bet, err := s.ledger.PlaceBet(ctx, marketID, bettor, outcome, amount)
	if err != nil {
		s.metrics.BetRejected(string(domain.KindOf(err)))
		return nil, err
	}
	s.metrics.BetPlaced(string(outcome))
	s.invalidate(ctx, marketID)
	s.effects.publish(ctx, domain.ChannelBets, domain.EventBetPlaced, bet)
	s.effects.record(ctx, "bet_placed", map[string]any{
		"market_id": marketID,
		"bet_id":    bet.ID,
		"bettor":    bettor,
		"outcome":   string(outcome),
		"shares":    bet.Shares.String(),
		"cost":      bet.Cost.String(),
	})
	return bet, nil
}

// ResolveMarket records the outcome of a market on behalf of caller.
func (s *MarketService) ResolveMarket(ctx context.Context, marketID, caller string, outcome domain.Outcome) (*domain.Market, error) {
	m, err := s.ledger.ResolveMarket(ctx, marketID, caller, outcome)
	if err != nil {
		return nil, err
	}
	s.metrics.MarketResolved(m.Outcome)
	s.refresh(ctx, *m)
	s.effects.publish(ctx, domain.ChannelMarkets, domain.EventMarketResolved, m)
	s.effects.record(ctx, "market_resolved", map[string]any{
		"market_id": m.ID,
		"caller":    caller,
		"outcome":   m.Outcome,
	})
	if err := s.notifier.MarketResolved(ctx, *m); err != nil {
		s.logger.WarnContext(ctx, "resolution notification failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

// GetMarket reads through the cache. Cache errors fall back to the store.
func (s *MarketService) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return &m, nil
		}
	}
	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: get %s: %w", id, err)
	}
	s.refresh(ctx, *m)
	return m, nil
}

func (s *MarketService) GetBalance(ctx context.Context, marketID, participant string) (domain.Balance, error) {
	bal, err := s.ledger.GetBalance(ctx, marketID, participant)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("market_service: balance %s/%s: %w", marketID, participant, err)
	}
	return bal, nil
}

// ListMarkets returns a page of markets and the total count.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int64, error) {
	markets, err := s.ledger.ListMarkets(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service: list: %w", err)
	}
	total, err := s.ledger.CountMarkets(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service: count: %w", err)
	}
	return markets, total, nil
}

func (s *MarketService) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	bets, err := s.ledger.ListBets(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: list bets %s: %w", marketID, err)
	}
	return bets, nil
}

func (s *MarketService) refresh(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate drops a snapshot whose liquidity view changed; the next read
// repopulates it.
func (s *MarketService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
