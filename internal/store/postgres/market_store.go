package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const marketColumns = `
	id, question, asset, target_price, end_time, yes_price, no_price,
	total_liquidity::text, yes_liquidity::text, no_liquidity::text,
	resolved, outcome, creator, contract_address, created_at, resolved_at`

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, asset, target_price, end_time, yes_price, no_price,
			total_liquidity, yes_liquidity, no_liquidity,
			creator, contract_address, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13
		)`
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Asset, m.TargetPrice, m.EndTime, m.YesPrice, m.NoPrice,
		m.TotalLiquidity.String(), m.YesLiquidity.String(), m.NoLiquidity.String(),
		m.Creator, m.ContractAddress, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, notFound(err, domain.ErrMarketNotFound, "get market", id)
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := listClause(`SELECT `+marketColumns+` FROM markets WHERE 1=1`, nil,
		"created_at", "created_at DESC, id", opts)
	return s.query(ctx, "list markets", query, args...)
}

func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// CreditBet inserts the bet and upserts the bettor's balance in one
// transaction. The market row is locked so a concurrent resolution cannot
// interleave.
func (s *MarketStore) CreditBet(ctx context.Context, bet domain.Bet) error {
	var yes, no string
	switch bet.Outcome {
	case domain.OutcomeYes:
		yes, no = bet.Shares.String(), "0"
	case domain.OutcomeNo:
		yes, no = "0", bet.Shares.String()
	default:
		return fmt.Errorf("postgres: credit bet on %s: outcome %q: %w", bet.MarketID, bet.Outcome, domain.ErrInvalidParameters)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var resolved bool
		err := tx.QueryRow(ctx, `SELECT resolved FROM markets WHERE id = $1 FOR UPDATE`, bet.MarketID).Scan(&resolved)
		if err != nil {
			return notFound(err, domain.ErrMarketNotFound, "credit bet on", bet.MarketID)
		}
		if resolved {
			return fmt.Errorf("postgres: credit bet on %s: %w", bet.MarketID, domain.ErrMarketClosed)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO bets (id, market_id, bettor, outcome, shares, price, cost, tx_hash, placed_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9)`,
			bet.ID, bet.MarketID, bet.Bettor, string(bet.Outcome),
			bet.Shares.String(), bet.Price, bet.Cost.String(), bet.TxHash, bet.PlacedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert bet %s: %w", bet.ID, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO balances (market_id, participant, yes_shares, no_shares)
			VALUES ($1, $2, $3::numeric, $4::numeric)
			ON CONFLICT (market_id, participant) DO UPDATE SET
				yes_shares = balances.yes_shares + EXCLUDED.yes_shares,
				no_shares  = balances.no_shares + EXCLUDED.no_shares`,
			bet.MarketID, bet.Bettor, yes, no,
		); err != nil {
			return fmt.Errorf("postgres: credit balance %s/%s: %w", bet.MarketID, bet.Bettor, err)
		}
		return nil
	})
}

// MarkResolved flips the market to resolved. A second call fails.
func (s *MarketStore) MarkResolved(ctx context.Context, id string, outcome bool, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets SET resolved = TRUE, outcome = $2, resolved_at = $3
		WHERE id = $1 AND NOT resolved`,
		id, outcome, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var resolved bool
	if err := s.pool.QueryRow(ctx, `SELECT resolved FROM markets WHERE id = $1`, id).Scan(&resolved); err != nil {
		return notFound(err, domain.ErrMarketNotFound, "resolve market", id)
	}
	return fmt.Errorf("postgres: resolve market %s: %w", id, domain.ErrAlreadyResolved)
}

// GetBalance returns zeros for a participant that never bet.
func (s *MarketStore) GetBalance(ctx context.Context, marketID, participant string) (domain.Balance, error) {
	var yes, no string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(b.yes_shares, 0)::text, COALESCE(b.no_shares, 0)::text
		FROM markets m
		LEFT JOIN balances b ON b.market_id = m.id AND b.participant = $2
		WHERE m.id = $1`,
		marketID, participant,
	).Scan(&yes, &no)
	if err != nil {
		return domain.Balance{}, notFound(err, domain.ErrMarketNotFound, "balance on", marketID)
	}

	var bal domain.Balance
	if bal.YesShares, err = parseDecimal(yes); err != nil {
		return domain.Balance{}, err
	}
	if bal.NoShares, err = parseDecimal(no); err != nil {
		return domain.Balance{}, err
	}
	return bal, nil
}

// ListBets returns the market's bets in placement order.
func (s *MarketStore) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, marketID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: list bets on %s: %w", marketID, err)
	}
	if !exists {
		return nil, fmt.Errorf("postgres: list bets on %s: %w", marketID, domain.ErrMarketNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, bettor, outcome, shares::text, price, cost::text, tx_hash, placed_at
		FROM bets WHERE market_id = $1 ORDER BY placed_at, id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets on %s: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var outcome, shares, cost string
		if err := rows.Scan(&b.ID, &b.MarketID, &b.Bettor, &outcome, &shares, &b.Price, &cost, &b.TxHash, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Outcome = domain.Outcome(outcome)
		if b.Shares, err = parseDecimal(shares); err != nil {
			return nil, err
		}
		if b.Cost, err = parseDecimal(cost); err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// ListResolvedBefore returns markets resolved strictly before the cutoff,
// oldest first.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	return s.query(ctx, "list resolved markets",
		`SELECT `+marketColumns+` FROM markets WHERE resolved AND resolved_at < $1 ORDER BY resolved_at`,
		before)
}

func (s *MarketStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var total, yesLiq, noLiq string
	err := row.Scan(
		&m.ID, &m.Question, &m.Asset, &m.TargetPrice, &m.EndTime, &m.YesPrice, &m.NoPrice,
		&total, &yesLiq, &noLiq,
		&m.Resolved, &m.Outcome, &m.Creator, &m.ContractAddress, &m.CreatedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if m.TotalLiquidity, err = parseDecimal(total); err != nil {
		return domain.Market{}, err
	}
	if m.YesLiquidity, err = parseDecimal(yesLiq); err != nil {
		return domain.Market{}, err
	}
	if m.NoLiquidity, err = parseDecimal(noLiq); err != nil {
		return domain.Market{}, err
	}
	m.EndTime = m.EndTime.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
