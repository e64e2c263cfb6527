// Package config defines the top-level configuration for predictx and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTX_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Events     EventsConfig     `toml:"events"`
	NATS       NATSConfig       `toml:"nats"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Chain      ChainConfig      `toml:"chain"`
	CMC        CMCConfig        `toml:"coinmarketcap"`
	LLM        LLMConfig        `toml:"llm"`
	Notify     NotifyConfig     `toml:"notify"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Prediction PredictionConfig `toml:"prediction"`
	Evaluator  EvaluatorConfig  `toml:"evaluator"`
}

// LogConfig adds an optional rotating file sink next to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards mutating routes; empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	// Limiting needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow Duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// in-memory stores are used.
type PostgresConfig struct {
	Enabled         bool     `toml:"enabled"`
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime Duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the market
// cache, quote cache, distributed locks and the rate limiter.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        string   `toml:"url"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	MarketTTL  Duration `toml:"market_ttl"`
	QuoteTTL   Duration `toml:"quote_ttl"`
}

// EventsConfig picks the event bus.
type EventsConfig struct {
	// Backend is "local", "redis" or "nats".
	Backend      string `toml:"backend"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// NATSConfig holds NATS JetStream parameters.
type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	Name          string `toml:"name"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	KeyPrefix      string `toml:"key_prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules cold storage exports to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// ChainConfig enables mirroring markets to a settlement contract.
type ChainConfig struct {
	Enabled          bool     `toml:"enabled"`
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	BytecodePath     string   `toml:"bytecode_path"`
	StakeToken       string   `toml:"stake_token"`
	PollInterval     Duration `toml:"poll_interval"`
}

// CMCConfig configures the CoinMarketCap quote client.
type CMCConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    Duration `toml:"timeout"`
	RetryCount int      `toml:"retry_count"`
}

// LLMConfig configures the forecast model.
type LLMConfig struct {
	// Provider is "openai" or "azure"; empty disables AI forecasts so every
	// AI prediction falls back to even odds.
	Provider    string  `toml:"provider"`
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	APIVersion  string  `toml:"api_version"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	TopP        float32 `toml:"top_p"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LedgerConfig bounds locks and settlement calls.
type LedgerConfig struct {
	LockTTL       Duration `toml:"lock_ttl"`
	LockWait      Duration `toml:"lock_wait"`
	SettleTimeout Duration `toml:"settle_timeout"`
}

// PredictionConfig tunes AI market creation.
type PredictionConfig struct {
	Liquidity           float64  `toml:"liquidity"`
	DefaultHorizon      Duration `toml:"default_horizon"`
	TargetMultiplier    float64  `toml:"target_multiplier"`
	CollaboratorTimeout Duration `toml:"collaborator_timeout"`
	Operator            string   `toml:"operator"`
}

// EvaluatorConfig schedules automatic evaluation of expired AI predictions.
type EvaluatorConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
	Batch    int      `toml:"batch"`
}

// LiquidityDecimal returns the configured seed liquidity.
func (p PredictionConfig) LiquidityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(p.Liquidity)
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  D(time.Minute),
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "predictx",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: D(30 * time.Minute),
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			MarketTTL:  D(5 * time.Minute),
			QuoteTTL:   D(time.Minute),
		},
		Events: EventsConfig{
			Backend:      "local",
			StreamMaxLen: 10000,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "predictx",
			Name:          "predictx",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictx-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Chain: ChainConfig{
			ChainID:      84532,
			PollInterval: D(2 * time.Second),
		},
		CMC: CMCConfig{
			BaseURL:    "https://pro-api.coinmarketcap.com",
			Timeout:    D(10 * time.Second),
			RetryCount: 2,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   800,
			Temperature: 0.7,
			TopP:        0.95,
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "prediction_created"},
		},
		Ledger: LedgerConfig{
			LockTTL:       D(10 * time.Second),
			LockWait:      D(5 * time.Second),
			SettleTimeout: D(60 * time.Second),
		},
		Prediction: PredictionConfig{
			Liquidity:           1000,
			DefaultHorizon:      D(24 * time.Hour),
			TargetMultiplier:    1.05,
			CollaboratorTimeout: D(20 * time.Second),
			Operator:            "predictx-operator",
		},
		Evaluator: EvaluatorConfig{
			Enabled:  true,
			Interval: D(5 * time.Minute),
			Batch:    50,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"local": true,
	"redis": true,
	"nats":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 {
		if !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
		if c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Events
	backend := strings.ToLower(c.Events.Backend)
	switch {
	case !validBackends[backend]:
		errs = append(errs, fmt.Sprintf("events: unknown backend %q (valid: local, redis, nats)", c.Events.Backend))
	case backend == "redis" && !c.Redis.Enabled:
		errs = append(errs, "events: backend redis requires redis.enabled")
	case backend == "nats" && c.NATS.URL == "":
		errs = append(errs, "nats: url must not be empty for backend nats")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
	}

	// Chain
	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path must be set")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.PrivateKey == "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.BytecodePath == "" {
			errs = append(errs, "chain: bytecode_path must not be empty")
		}
		if c.Chain.StakeToken == "" {
			errs = append(errs, "chain: stake_token must not be empty")
		}
	}

	// LLM
	switch strings.ToLower(c.LLM.Provider) {
	case "":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, "llm: api_key is required for provider openai")
		}
	case "azure":
		if c.LLM.APIKey == "" || c.LLM.BaseURL == "" {
			errs = append(errs, "llm: api_key and base_url are required for provider azure")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm: unknown provider %q (valid: openai, azure)", c.LLM.Provider))
	}

	// Prediction
	if c.Prediction.Liquidity <= 0 {
		errs = append(errs, "prediction: liquidity must be > 0")
	}
	if c.Prediction.TargetMultiplier <= 0 {
		errs = append(errs, "prediction: target_multiplier must be > 0")
	}
	if strings.TrimSpace(c.Prediction.Operator) == "" {
		errs = append(errs, "prediction: operator must not be empty")
	}

	// Evaluator
	if c.Evaluator.Enabled && c.Evaluator.Interval.Duration <= 0 {
		errs = append(errs, "evaluator: interval must be > 0 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
