package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const predictionColumns = `
	id, asset, predictor_type, predictor_id, current_price, predicted_price,
	yes_probability, confidence, reasoning, fallback, market_id, market_data,
	prediction_time, horizon_end, actual_price, accuracy, evaluated_at,
	eval_attempts, next_attempt_at`

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	var marketData []byte
	if p.MarketData != nil {
		var err error
		if marketData, err = json.Marshal(p.MarketData); err != nil {
			return fmt.Errorf("postgres: marshal market data for %s: %w", p.ID, err)
		}
	}
	var horizon *time.Time
	if !p.HorizonEnd.IsZero() {
		horizon = &p.HorizonEnd
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO predictions (`+predictionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		p.ID, p.Asset, string(p.PredictorType), p.PredictorID, p.CurrentPrice, p.PredictedPrice,
		p.YesProbability, p.Confidence, p.Reasoning, p.Fallback, p.MarketID, marketData,
		p.PredictionTime, horizon, p.ActualPrice, p.Accuracy, p.EvaluatedAt,
		p.EvalAttempts, p.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		return domain.Prediction{}, notFound(err, domain.ErrPredictionNotFound, "get prediction", id)
	}
	return p, nil
}

// List returns predictions newest first.
func (s *PredictionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Prediction, error) {
	query, args := listClause(`SELECT `+predictionColumns+` FROM predictions WHERE 1=1`, nil,
		"prediction_time", "prediction_time DESC, id", opts)
	return s.query(ctx, "list predictions", query, args...)
}

func (s *PredictionStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions
		WHERE evaluated_at IS NULL AND horizon_end IS NOT NULL AND horizon_end <= $1
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY horizon_end, id`
	args := []any{asOf}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, "list due predictions", query, args...)
}

func (s *PredictionStore) ListEvaluated(ctx context.Context) ([]domain.Prediction, error) {
	return s.query(ctx, "list evaluated predictions",
		`SELECT `+predictionColumns+` FROM predictions WHERE evaluated_at IS NOT NULL ORDER BY prediction_time`)
}

// SetEvaluation records the realized price once.
func (s *PredictionStore) SetEvaluation(ctx context.Context, id string, actual, accuracy float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE predictions SET actual_price = $2, accuracy = $3, evaluated_at = $4
		WHERE id = $1 AND evaluated_at IS NULL`,
		id, actual, accuracy, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: evaluate prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres: evaluate prediction %s: %w", id, domain.ErrAlreadyEvaluated)
}

// DeferEvaluation counts a failed attempt and sets the retry time.
func (s *PredictionStore) DeferEvaluation(ctx context.Context, id string, retryAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE predictions SET eval_attempts = eval_attempts + 1, next_attempt_at = $2
		WHERE id = $1 AND evaluated_at IS NULL`,
		id, retryAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: defer prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres: defer prediction %s: %w", id, domain.ErrAlreadyEvaluated)
}

func (s *PredictionStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		p             domain.Prediction
		predictorType string
		marketData    []byte
		horizon       *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Asset, &predictorType, &p.PredictorID, &p.CurrentPrice, &p.PredictedPrice,
		&p.YesProbability, &p.Confidence, &p.Reasoning, &p.Fallback, &p.MarketID, &marketData,
		&p.PredictionTime, &horizon, &p.ActualPrice, &p.Accuracy, &p.EvaluatedAt,
		&p.EvalAttempts, &p.NextAttemptAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.PredictorType = domain.PredictorType(predictorType)
	p.PredictionTime = p.PredictionTime.UTC()
	if horizon != nil {
		p.HorizonEnd = horizon.UTC()
	}
	if len(marketData) > 0 {
		var md domain.MarketData
		if err := json.Unmarshal(marketData, &md); err != nil {
			return domain.Prediction{}, fmt.Errorf("unmarshal market data: %w", err)
		}
		p.MarketData = &md
	}
	return p, nil
}

var _ domain.PredictionStore = (*PredictionStore)(nil)
