package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/ledger"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/notify"
	"github.com/alanyoungcy/predictx/internal/pricing"
	"github.com/alanyoungcy/predictx/internal/scoring"
)

// FallbackReasoning is recorded on an AI prediction made without a forecast.
const FallbackReasoning = "Fallback prediction due to error"

const fallbackConfidence = 0.5

var usd = message.NewPrinter(language.English)

// PredictionConfig tunes AI market creation.
type PredictionConfig struct {
	// Liquidity seeds every AI-backed market.
	Liquidity decimal.Decimal
	// DefaultHorizon applies when a request names no duration.
	DefaultHorizon time.Duration
	// TargetMultiplier derives a target from the current price.
	TargetMultiplier float64
	// CollaboratorTimeout bounds each market data and forecast call.
	CollaboratorTimeout time.Duration
	// Operator creates (and may resolve) AI-backed markets.
	Operator string
	// ModelID is recorded as the predictor id of AI predictions.
	ModelID string
}

func (c PredictionConfig) withDefaults() PredictionConfig {
	if !c.Liquidity.IsPositive() {
		c.Liquidity = decimal.NewFromInt(1000)
	}
	if c.DefaultHorizon <= 0 {
		c.DefaultHorizon = 24 * time.Hour
	}
	if c.TargetMultiplier <= 0 {
		c.TargetMultiplier = 1.05
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 20 * time.Second
	}
	if c.Operator == "" {
		c.Operator = "predictx-operator"
	}
	if c.ModelID == "" {
		c.ModelID = "ai"
	}
	return c
}

// MaxDurationDays bounds a requested horizon to ten years.
const MaxDurationDays = 3650

// horizonFor returns the requested horizon, or def when days is zero.
func horizonFor(days int, def time.Duration) time.Duration {
	if days > 0 {
		return time.Duration(days) * 24 * time.Hour
	}
	return def
}

// AIPredictionRequest asks for an AI forecast backed by a new market.
type AIPredictionRequest struct {
	Asset        string
	TargetPrice  *float64
	DurationDays int
}

// KOLPredictionRequest records a human forecast.
type KOLPredictionRequest struct {
	PredictorID    string
	Asset          string
	PredictedPrice float64
	CurrentPrice   *float64
	Confidence     float64
	Reasoning      string
	DurationDays   int
}

// SupportRequest backs one side of a prediction.
type SupportRequest struct {
	PredictionID string
	Amount       decimal.Decimal
	SupportAI    bool
	UserAddress  string
}

// AIPrediction is the result of CreateAIPrediction.
type AIPrediction struct {
	Prediction domain.Prediction `json:"prediction"`
	Market     domain.Market     `json:"market"`
}

// PredictionService turns forecasts into markets and keeps the prediction
// record: support, evaluation and ranking.
type PredictionService struct {
	markets     *MarketService
	predictions domain.PredictionStore
	stakes      domain.StakeStore
	marketData  domain.MarketDataSource
	forecasts   domain.ForecastSource
	cfg         PredictionConfig
	effects     sideEffects
	notifier    *notify.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewPredictionService creates a PredictionService. forecasts may be nil, in
// which case every AI prediction is a fallback.
func NewPredictionService(
	markets *MarketService,
	predictions domain.PredictionStore,
	stakes domain.StakeStore,
	marketData domain.MarketDataSource,
	forecasts domain.ForecastSource,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg PredictionConfig,
	logger *slog.Logger,
) *PredictionService {
	logger = logger.With(slog.String("component", "prediction_service"))
	return &PredictionService{
		markets:     markets,
		predictions: predictions,
		stakes:      stakes,
		marketData:  marketData,
		forecasts:   forecasts,
		cfg:         cfg.withDefaults(),
		effects:     sideEffects{bus: bus, audit: audit, logger: logger},
		logger:      logger,
		now:         time.Now,
	}
}

func (s *PredictionService) WithNotifier(n *notify.Notifier) *PredictionService {
	s.notifier = n
	return s
}

func (s *PredictionService) WithMetrics(m *metrics.Metrics) *PredictionService {
	s.metrics = m
	return s
}

// WithClock overrides the time source.
func (s *PredictionService) WithClock(now func() time.Time) *PredictionService {
	s.now = now
	return s
}

// Operator returns the identity that owns AI-backed markets.
func (s *PredictionService) Operator() string { return s.cfg.Operator }

// CreateAIPrediction fetches market data, asks the forecast source for the
// probability that the asset reaches the target, and opens a market priced
// at that probability. A failed data or forecast call degrades to a neutral
// 50/50 market; only ledger and store errors are returned.
func (s *PredictionService) CreateAIPrediction(ctx context.Context, req AIPredictionRequest) (*AIPrediction, error) {
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	switch {
	case asset == "":
		return nil, fmt.Errorf("prediction_service: asset is required: %w", domain.ErrInvalidParameters)
	case req.TargetPrice != nil && (*req.TargetPrice <= 0 || math.IsNaN(*req.TargetPrice)):
		return nil, fmt.Errorf("prediction_service: target price must be positive: %w", domain.ErrInvalidParameters)
	case req.DurationDays < 0:
		return nil, fmt.Errorf("prediction_service: duration must not be negative: %w", domain.ErrInvalidParameters)
	case req.DurationDays > MaxDurationDays:
		return nil, fmt.Errorf("prediction_service: duration exceeds %d days: %w", MaxDurationDays, domain.ErrInvalidParameters)
	}

	now := s.now().UTC()
	horizon := horizonFor(req.DurationDays, s.cfg.DefaultHorizon)
	endTime := now.Add(horizon)

	md, mdErr := s.fetchMarketData(ctx, asset)
	target := req.TargetPrice
	if target == nil && mdErr == nil && md.CurrentPrice > 0 {
		t := md.CurrentPrice * s.cfg.TargetMultiplier
		target = &t
	}

	var (
		quote    pricing.Quote
		forecast domain.Forecast
		cause    error
	)
	if mdErr != nil {
		cause = mdErr
	} else {
		forecast, cause = s.estimate(ctx, domain.ForecastRequest{
			Asset:       asset,
			TargetPrice: target,
			Horizon:     horizon,
			MarketData:  md,
		})
		if cause == nil {
			quote, cause = pricing.Compute(forecast.Probability, s.cfg.Liquidity)
		}
	}
	if cause != nil {
		s.logger.WarnContext(ctx, "forecast failed, using neutral market",
			slog.String("asset", asset),
			slog.String("kind", string(domain.KindOf(cause))),
			slog.String("error", cause.Error()),
		)
		s.metrics.ForecastFallback()
		var err error
		if quote, err = pricing.Neutral(s.cfg.Liquidity); err != nil {
			return nil, fmt.Errorf("prediction_service: neutral quote: %w", err)
		}
		forecast = domain.Forecast{
			Probability: quote.Probability,
			Confidence:  fallbackConfidence,
			Reasoning:   FallbackReasoning,
		}
	}

	market, err := s.markets.CreateMarket(ctx, ledger.NewMarket{
		Question:    Question(asset, target, endTime),
		Asset:       asset,
		TargetPrice: target,
		EndTime:     endTime,
		YesPrice:    quote.YesPrice,
		NoPrice:     quote.NoPrice,
		Liquidity:   quote.Liquidity,
		Creator:     s.cfg.Operator,
	})
	if err != nil {
		return nil, fmt.Errorf("prediction_service: create market for %s: %w", asset, err)
	}

	p := domain.Prediction{
		ID:             uuid.NewString(),
		Asset:          asset,
		PredictorType:  domain.PredictorAI,
		PredictorID:    s.cfg.ModelID,
		CurrentPrice:   md.CurrentPrice,
		YesProbability: quote.Probability,
		Confidence:     forecast.Confidence,
		Reasoning:      forecast.Reasoning,
		Fallback:       quote.Fallback,
		MarketID:       market.ID,
		PredictionTime: now,
		HorizonEnd:     market.EndTime,
	}
	if target != nil {
		p.PredictedPrice = *target
	}
	if mdErr == nil {
		p.MarketData = &md
	}
	if err := s.predictions.Create(context.WithoutCancel(ctx), p); err != nil {
		s.logger.ErrorContext(ctx, "market opened but prediction not stored",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("prediction_service: store prediction: %w", err)
	}

	s.created(ctx, p)
	return &AIPrediction{Prediction: p, Market: *market}, nil
}

// CreateKOLPrediction records a human forecast. KOL predictions do not open
// markets. A missing current price is looked up best-effort.
func (s *PredictionService) CreateKOLPrediction(ctx context.Context, req KOLPredictionRequest) (*domain.Prediction, error) {
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	var problems []string
	if strings.TrimSpace(req.PredictorID) == "" {
		problems = append(problems, "predictor id is required")
	}
	if asset == "" {
		problems = append(problems, "asset is required")
	}
	if !(req.PredictedPrice > 0) {
		problems = append(problems, "predicted price must be positive")
	}
	if !(req.Confidence >= 0 && req.Confidence <= 1) {
		problems = append(problems, "confidence must lie in [0,1]")
	}
	if req.DurationDays < 0 {
		problems = append(problems, "duration must not be negative")
	}
	if req.DurationDays > MaxDurationDays {
		problems = append(problems, fmt.Sprintf("duration exceeds %d days", MaxDurationDays))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("prediction_service: %s: %w", strings.Join(problems, "; "), domain.ErrInvalidParameters)
	}

	now := s.now().UTC()
	horizon := horizonFor(req.DurationDays, s.cfg.DefaultHorizon)

	p := domain.Prediction{
		ID:             uuid.NewString(),
		Asset:          asset,
		PredictorType:  domain.PredictorKOL,
		PredictorID:    strings.TrimSpace(req.PredictorID),
		PredictedPrice: req.PredictedPrice,
		Confidence:     req.Confidence,
		Reasoning:      req.Reasoning,
		PredictionTime: now,
		HorizonEnd:     now.Add(horizon),
	}
	if req.CurrentPrice != nil {
		p.CurrentPrice = *req.CurrentPrice
	} else if md, err := s.fetchMarketData(ctx, asset); err == nil {
		p.CurrentPrice = md.CurrentPrice
		p.MarketData = &md
	} else {
		s.logger.WarnContext(ctx, "current price lookup failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	}

	if err := s.predictions.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("prediction_service: store prediction: %w", err)
	}
	s.created(ctx, p)
	return &p, nil
}

// ListPredictions returns predictions newest first with their support.
func (s *PredictionService) ListPredictions(ctx context.Context, opts domain.ListOpts) ([]domain.EnrichedPrediction, error) {
	preds, err := s.predictions.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list: %w", err)
	}
	ids := make([]string, len(preds))
	for i, p := range preds {
		ids[i] = p.ID
	}
	sums, err := s.stakes.Summaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: support summaries: %w", err)
	}

	out := make([]domain.EnrichedPrediction, len(preds))
	for i, p := range preds {
		out[i] = enrich(p, sums[p.ID])
	}
	return out, nil
}

func (s *PredictionService) GetPrediction(ctx context.Context, id string) (*domain.EnrichedPrediction, error) {
	p, err := s.predictions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: get %s: %w", id, err)
	}
	stakes, err := s.stakes.ListByTarget(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: stakes for %s: %w", id, err)
	}
	ep := enrich(p, domain.SumStakes(stakes))
	return &ep, nil
}

// Support records a stake for or against a prediction.
func (s *PredictionService) Support(ctx context.Context, req SupportRequest) (*domain.Stake, error) {
	switch {
	case strings.TrimSpace(req.PredictionID) == "":
		return nil, fmt.Errorf("prediction_service: prediction id is required: %w", domain.ErrInvalidParameters)
	case !req.Amount.IsPositive():
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.predictions.GetByID(ctx, req.PredictionID); err != nil {
		return nil, fmt.Errorf("prediction_service: support %s: %w", req.PredictionID, err)
	}

	supporter := strings.TrimSpace(req.UserAddress)
	if supporter == "" {
		supporter = "anonymous"
	}
	stake := domain.Stake{
		ID:        uuid.NewString(),
		TargetID:  req.PredictionID,
		Supporter: supporter,
		Amount:    req.Amount,
		SupportAI: req.SupportAI,
		CreatedAt: s.now().UTC(),
	}
	if err := s.stakes.Create(ctx, stake); err != nil {
		return nil, fmt.Errorf("prediction_service: store stake: %w", err)
	}

	s.logger.InfoContext(ctx, "stake recorded",
		slog.String("prediction_id", stake.TargetID),
		slog.String("supporter", supporter),
		slog.String("amount", stake.Amount.String()),
		slog.Bool("support_ai", stake.SupportAI),
	)
	s.effects.publish(ctx, domain.ChannelPredictions, domain.EventStakeRecorded, stake)
	s.effects.record(ctx, "stake_recorded", map[string]any{
		"stake_id":      stake.ID,
		"prediction_id": stake.TargetID,
		"supporter":     supporter,
		"amount":        stake.Amount.String(),
		"support_ai":    stake.SupportAI,
	})
	return &stake, nil
}

// Evaluate scores a prediction against the realized price. A prediction is
// evaluated once.
func (s *PredictionService) Evaluate(ctx context.Context, id string, actual float64) (*domain.Prediction, error) {
	if math.IsNaN(actual) || math.IsInf(actual, 0) || actual < 0 {
		return nil, fmt.Errorf("prediction_service: actual price %v: %w", actual, domain.ErrInvalidParameters)
	}
	p, err := s.predictions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: evaluate %s: %w", id, err)
	}
	if p.Evaluated() {
		return nil, fmt.Errorf("prediction_service: evaluate %s: %w", id, domain.ErrAlreadyEvaluated)
	}
	accuracy, err := scoring.Score(p.PredictedPrice, actual)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: evaluate %s: %w", id, err)
	}

	at := s.now().UTC()
	if err := s.predictions.SetEvaluation(ctx, id, actual, accuracy, at); err != nil {
		return nil, fmt.Errorf("prediction_service: evaluate %s: %w", id, err)
	}
	p.ActualPrice = &actual
	p.Accuracy = &accuracy
	p.EvaluatedAt = &at

	s.logger.InfoContext(ctx, "prediction evaluated",
		slog.String("prediction_id", id),
		slog.String("predictor_id", p.PredictorID),
		slog.Float64("predicted", p.PredictedPrice),
		slog.Float64("actual", actual),
		slog.Float64("accuracy", accuracy),
	)
	s.metrics.PredictionEvaluated()
	s.effects.publish(ctx, domain.ChannelPredictions, domain.EventPredictionEvaluated, p)
	s.effects.record(ctx, "prediction_evaluated", map[string]any{
		"prediction_id": id,
		"actual":        actual,
		"accuracy":      accuracy,
	})
	if err := s.notifier.PredictionEvaluated(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "evaluation notification failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()),
		)
	}
	return &p, nil
}

// Leaderboard ranks predictors by mean accuracy.
func (s *PredictionService) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	evaluated, err := s.predictions.ListEvaluated(ctx)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: leaderboard: %w", err)
	}
	return scoring.Leaderboard(evaluated), nil
}

// Question renders the market question for an asset and end date. Without
// a target the question asks only about direction.
func Question(asset string, target *float64, end time.Time) string {
	date := end.UTC().Format("2006-01-02")
	if target == nil {
		return fmt.Sprintf("Will %s rise by %s?", asset, date)
	}
	return usd.Sprintf("Will %s reach $%.2f by %s?", asset, *target, date)
}

func (s *PredictionService) fetchMarketData(ctx context.Context, asset string) (domain.MarketData, error) {
	if s.marketData == nil {
		return domain.MarketData{}, fmt.Errorf("prediction_service: no market data source: %w", domain.ErrSourceUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	md, err := s.marketData.GetMarketData(ctx, asset)
	if err != nil {
		return domain.MarketData{}, domain.CollaboratorError("market data "+asset, domain.ErrSourceUnavailable, err)
	}
	return md, nil
}

func (s *PredictionService) estimate(ctx context.Context, req domain.ForecastRequest) (domain.Forecast, error) {
	if s.forecasts == nil {
		return domain.Forecast{}, fmt.Errorf("prediction_service: no forecast source: %w", domain.ErrForecastUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()
	f, err := s.forecasts.Estimate(ctx, req)
	if err != nil {
		return domain.Forecast{}, domain.CollaboratorError("forecast "+req.Asset, domain.ErrForecastUnavailable, err)
	}
	return f, nil
}

func (s *PredictionService) created(ctx context.Context, p domain.Prediction) {
	s.logger.InfoContext(ctx, "prediction created",
		slog.String("prediction_id", p.ID),
		slog.String("asset", p.Asset),
		slog.String("predictor_type", string(p.PredictorType)),
		slog.Bool("fallback", p.Fallback),
		slog.String("market_id", p.MarketID),
	)
	s.metrics.PredictionCreated(string(p.PredictorType))
	s.effects.publish(ctx, domain.ChannelPredictions, domain.EventPredictionCreated, p)
	s.effects.record(ctx, "prediction_created", map[string]any{
		"prediction_id":  p.ID,
		"asset":          p.Asset,
		"predictor_type": string(p.PredictorType),
		"predictor_id":   p.PredictorID,
		"market_id":      p.MarketID,
		"fallback":       p.Fallback,
	})
	if err := s.notifier.PredictionCreated(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "prediction notification failed",
			slog.String("prediction_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func enrich(p domain.Prediction, sum domain.SupportSummary) domain.EnrichedPrediction {
	if sum.SupportersCount == 0 {
		sum.TotalSupport = decimal.Zero
	}
	return domain.EnrichedPrediction{Prediction: p, SupportSummary: sum}
}
