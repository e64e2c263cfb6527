package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTX_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so a deployment
// may configure itself from the environment alone. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTX_MODE")
	setStr(&cfg.LogLevel, "PREDICTX_LOG_LEVEL")

	// ── Log ──
	setStr(&cfg.Log.File, "PREDICTX_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "PREDICTX_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "PREDICTX_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "PREDICTX_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "PREDICTX_LOG_COMPRESS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDICTX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDICTX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PREDICTX_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDICTX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDICTX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTX_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "PREDICTX_REDIS_URL")
	setStr(&cfg.Redis.Addr, "PREDICTX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTX_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketTTL, "PREDICTX_REDIS_MARKET_TTL")
	setDuration(&cfg.Redis.QuoteTTL, "PREDICTX_REDIS_QUOTE_TTL")

	// ── Events / NATS ──
	setStr(&cfg.Events.Backend, "PREDICTX_EVENTS_BACKEND")
	setInt(&cfg.Events.StreamMaxLen, "PREDICTX_EVENTS_STREAM_MAX_LEN")
	setStr(&cfg.NATS.URL, "PREDICTX_NATS_URL")
	setStr(&cfg.NATS.SubjectPrefix, "PREDICTX_NATS_SUBJECT_PREFIX")

	// ── S3 / Archive ──
	setStr(&cfg.S3.Endpoint, "PREDICTX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTX_S3_BUCKET")
	setStr(&cfg.S3.KeyPrefix, "PREDICTX_S3_KEY_PREFIX")
	setStr(&cfg.S3.AccessKey, "PREDICTX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTX_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "PREDICTX_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "PREDICTX_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "PREDICTX_ARCHIVE_RETENTION_DAYS")

	// ── Chain ──
	setBool(&cfg.Chain.Enabled, "PREDICTX_CHAIN_ENABLED")
	setStr(&cfg.Chain.RPCURL, "PREDICTX_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PREDICTX_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "PREDICTX_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "PREDICTX_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "PREDICTX_CHAIN_KEY_PASSWORD")
	setStr(&cfg.Chain.BytecodePath, "PREDICTX_CHAIN_BYTECODE_PATH")
	setStr(&cfg.Chain.StakeToken, "PREDICTX_CHAIN_STAKE_TOKEN")

	// ── Collaborators ──
	setStr(&cfg.CMC.BaseURL, "PREDICTX_CMC_BASE_URL")
	setStr(&cfg.CMC.APIKey, "PREDICTX_CMC_API_KEY")
	setStr(&cfg.CMC.APIKey, "CMC_API_KEY") // compatibility alias
	setDuration(&cfg.CMC.Timeout, "PREDICTX_CMC_TIMEOUT")
	setStr(&cfg.LLM.Provider, "PREDICTX_LLM_PROVIDER")
	setStr(&cfg.LLM.APIKey, "PREDICTX_LLM_API_KEY")
	setStr(&cfg.LLM.BaseURL, "PREDICTX_LLM_BASE_URL")
	setStr(&cfg.LLM.APIVersion, "PREDICTX_LLM_API_VERSION")
	setStr(&cfg.LLM.Model, "PREDICTX_LLM_MODEL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTX_NOTIFY_EVENTS")

	// ── Prediction / Evaluator ──
	setFloat64(&cfg.Prediction.Liquidity, "PREDICTX_PREDICTION_LIQUIDITY")
	setDuration(&cfg.Prediction.DefaultHorizon, "PREDICTX_PREDICTION_DEFAULT_HORIZON")
	setStr(&cfg.Prediction.Operator, "PREDICTX_PREDICTION_OPERATOR")
	setBool(&cfg.Evaluator.Enabled, "PREDICTX_EVALUATOR_ENABLED")
	setDuration(&cfg.Evaluator.Interval, "PREDICTX_EVALUATOR_INTERVAL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
