// Package llm is a ForecastSource that asks a chat-completion model for the
// probability that an asset reaches a target price.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Provider selects the API flavour.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderAzure  Provider = "azure"
)

// Config configures the forecast source. For Azure, Model is the
// deployment name and BaseURL the resource endpoint.
type Config struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	APIVersion  string
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 800
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.TopP == 0 {
		c.TopP = 0.95
	}
	return c
}

// Forecaster implements domain.ForecastSource.
type Forecaster struct {
	client *openai.Client
	cfg    Config
}

func New(cfg Config) (*Forecaster, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}

	var oc openai.ClientConfig
	switch cfg.Provider {
	case ProviderOpenAI:
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
	case ProviderAzure:
		if cfg.BaseURL == "" {
			return nil, errors.New("llm: azure endpoint is required")
		}
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
		// Model is already the deployment name.
		oc.AzureModelMapperFunc = func(model string) string { return model }
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return &Forecaster{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

const systemPrompt = `You are a professional crypto trading analyst.
Based on the provided market data, estimate the probability that the asset
reaches the target price within the timeframe. Consider momentum, volume and
volatility. Respond with a JSON object with fields:
- yesProbability: number between 0 and 1
- confidence: number between 0 and 1
- reasoning: string explaining the estimate`

var usd = message.NewPrinter(language.English)

// Estimate asks the model for a forecast. Every failure, including an
// unparseable or out-of-range answer, wraps domain.ErrForecastUnavailable.
func (f *Forecaster) Estimate(ctx context.Context, req domain.ForecastRequest) (domain.Forecast, error) {
	op := "llm: estimate " + req.Asset
	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: f.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		MaxTokens:   f.cfg.MaxTokens,
		Temperature: f.cfg.Temperature,
		TopP:        f.cfg.TopP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.Forecast{}, domain.CollaboratorError(op, domain.ErrForecastUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Forecast{}, fmt.Errorf("%s: empty response: %w", op, domain.ErrForecastUnavailable)
	}
	fc, err := parseForecast(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.Forecast{}, fmt.Errorf("%s: %w: %w", op, domain.ErrForecastUnavailable, err)
	}
	return fc, nil
}

func userPrompt(req domain.ForecastRequest) string {
	md := req.MarketData
	days := int(math.Ceil(req.Horizon.Hours() / 24))
	if days < 1 {
		days = 1
	}

	var b strings.Builder
	if req.TargetPrice != nil {
		change := 0.0
		if md.CurrentPrice > 0 {
			change = (*req.TargetPrice - md.CurrentPrice) / md.CurrentPrice * 100
		}
		usd.Fprintf(&b, "Estimate the probability of %s reaching $%.2f (a %.1f%% change) within %d days.\n",
			req.Asset, *req.TargetPrice, change, days)
	} else {
		usd.Fprintf(&b, "Estimate the probability of %s trading higher than today within %d days.\n", req.Asset, days)
	}
	usd.Fprintf(&b, "\nCurrent market data:\nCurrent Price: $%.2f\n1h Change: %.2f%%\n24h Change: %.2f%%\n7d Change: %.2f%%\n24h Volume: $%.2f\nMarket Cap: $%.2f\n",
		md.CurrentPrice, md.PercentChange1h, md.PercentChange24h, md.PercentChange7d, md.Volume24h, md.MarketCap)
	return b.String()
}

type answer struct {
	YesProbability *float64 `json:"yesProbability"`
	Confidence     *float64 `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

// parseForecast reads the model's JSON answer, tolerating a markdown code
// fence around it.
func parseForecast(content string) (domain.Forecast, error) {
	body := strings.TrimSpace(content)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var a answer
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return domain.Forecast{}, fmt.Errorf("decode answer: %w", err)
	}
	if a.YesProbability == nil {
		return domain.Forecast{}, errors.New("answer has no yesProbability")
	}
	p := *a.YesProbability
	if math.IsNaN(p) || p < 0 || p > 1 {
		return domain.Forecast{}, fmt.Errorf("yesProbability %v outside [0,1]", p)
	}
	conf := 0.5
	if a.Confidence != nil {
		conf = *a.Confidence
		if math.IsNaN(conf) || conf < 0 || conf > 1 {
			return domain.Forecast{}, fmt.Errorf("confidence %v outside [0,1]", conf)
		}
	}
	return domain.Forecast{
		Probability: p,
		Confidence:  conf,
		Reasoning:   strings.TrimSpace(a.Reasoning),
	}, nil
}

var _ domain.ForecastSource = (*Forecaster)(nil)
