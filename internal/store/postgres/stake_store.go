package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// StakeStore implements domain.StakeStore using PostgreSQL. target_id has
// no foreign key; stakes stay readable after their target is archived.
type StakeStore struct {
	pool *pgxpool.Pool
}

func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

func (s *StakeStore) Create(ctx context.Context, st domain.Stake) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stakes (id, target_id, supporter, amount, support_ai, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		st.ID, st.TargetID, st.Supporter, st.Amount.String(), st.SupportAI, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create stake %s: %w", st.ID, err)
	}
	return nil
}

func (s *StakeStore) ListByTarget(ctx context.Context, targetID string) ([]domain.Stake, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_id, supporter, amount::text, support_ai, created_at
		FROM stakes WHERE target_id = $1 ORDER BY created_at, id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes for %s: %w", targetID, err)
	}
	defer rows.Close()

	var out []domain.Stake
	for rows.Next() {
		var st domain.Stake
		var amount string
		if err := rows.Scan(&st.ID, &st.TargetID, &st.Supporter, &amount, &st.SupportAI, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		if st.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list stakes rows: %w", err)
	}
	return out, nil
}

// Summaries aggregates stakes per target in one grouped query. Targets
// without stakes get a zero summary.
func (s *StakeStore) Summaries(ctx context.Context, targetIDs []string) (map[string]domain.SupportSummary, error) {
	out := make(map[string]domain.SupportSummary, len(targetIDs))
	for _, id := range targetIDs {
		out[id] = domain.SumStakes(nil)
	}
	if len(targetIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT target_id, SUM(amount)::text, COUNT(*)
		FROM stakes WHERE target_id = ANY($1)
		GROUP BY target_id`, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: stake summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, total string
		var count int
		if err := rows.Scan(&id, &total, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan stake summary: %w", err)
		}
		sum, err := parseDecimal(total)
		if err != nil {
			return nil, err
		}
		out[id] = domain.SupportSummary{TotalSupport: sum, SupportersCount: count}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: stake summaries rows: %w", err)
	}
	return out, nil
}

var _ domain.StakeStore = (*StakeStore)(nil)
