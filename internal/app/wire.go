package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/predictx/internal/blob/s3"
	"github.com/alanyoungcy/predictx/internal/cache/redis"
	"github.com/alanyoungcy/predictx/internal/config"
	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/ledger"
	"github.com/alanyoungcy/predictx/internal/messaging/local"
	natsbus "github.com/alanyoungcy/predictx/internal/messaging/nats"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/notify"
	"github.com/alanyoungcy/predictx/internal/platform/chain"
	"github.com/alanyoungcy/predictx/internal/platform/coinmarketcap"
	"github.com/alanyoungcy/predictx/internal/platform/llm"
	"github.com/alanyoungcy/predictx/internal/server/handler"
	"github.com/alanyoungcy/predictx/internal/store/memory"
	"github.com/alanyoungcy/predictx/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when not configured.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	PredictionStore domain.PredictionStore
	StakeStore      domain.StakeStore
	AuditStore      domain.AuditStore

	// Caches and coordination
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Collaborators
	MarketData domain.MarketDataSource
	Forecasts  domain.ForecastSource
	Settlement domain.SettlementBackend
	Contract   domain.ContractSpec
	StakeToken string

	Archiver domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are reported by GET /health.
	Checks []handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Stores: PostgreSQL when enabled, otherwise in memory ---
	if cfg.Postgres.Enabled {
		pgClient, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "migrations applied", slog.Any("migrations", applied))
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PredictionStore = postgres.NewPredictionStore(pool)
		deps.StakeStore = postgres.NewStakeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks = append(deps.Checks, handler.Check{Name: "postgres", Ping: pgClient.Ping})
	} else {
		logger.WarnContext(ctx, "postgres disabled; state is kept in memory and lost on restart")
		deps.MarketStore = memory.NewMarketStore()
		deps.PredictionStore = memory.NewPredictionStore()
		deps.StakeStore = memory.NewStakeStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Market data ---
	deps.MarketData = coinmarketcap.New(coinmarketcap.Config{
		BaseURL:    cfg.CMC.BaseURL,
		APIKey:     cfg.CMC.APIKey,
		Timeout:    cfg.CMC.Timeout.Duration,
		RetryCount: cfg.CMC.RetryCount,
	})

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, cfg.Ledger.LockWait.Duration)
		deps.MarketData = redis.NewQuoteCache(redisClient, deps.MarketData, cfg.Redis.QuoteTTL.Duration, logger)
		deps.Checks = append(deps.Checks, handler.Check{Name: "redis", Ping: redisClient.Ping})
	} else {
		deps.LockManager = ledger.NewLocalLocks(cfg.Ledger.LockWait.Duration)
	}

	// --- Event bus ---
	switch strings.ToLower(cfg.Events.Backend) {
	case "redis":
		if redisClient == nil {
			return fail(fmt.Errorf("wire: events backend redis requires redis"))
		}
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Events.StreamMaxLen))
	case "nats":
		bus, err := natsbus.Connect(natsbus.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			StreamMaxLen:  int64(cfg.Events.StreamMaxLen),
			Name:          cfg.NATS.Name,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: nats: %w", err))
		}
		closers = append(closers, func() { _ = bus.Close() })
		deps.SignalBus = bus
	default:
		deps.SignalBus = local.New(cfg.Events.StreamMaxLen)
	}

	// --- Forecasts ---
	if cfg.LLM.Provider != "" {
		fc, err := llm.New(llm.Config{
			Provider:    llm.Provider(strings.ToLower(cfg.LLM.Provider)),
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			APIVersion:  cfg.LLM.APIVersion,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: llm: %w", err))
		}
		deps.Forecasts = fc
	} else {
		logger.WarnContext(ctx, "llm disabled; AI predictions will use fallback odds")
	}

	// --- Settlement chain ---
	if cfg.Chain.Enabled {
		backend, closeChain, err := dialChain(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closeChain)
		bytecode, err := chain.LoadBytecode(cfg.Chain.BytecodePath)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Settlement = backend
		deps.Contract = domain.ContractSpec{Name: "BinaryMarket", ABI: chain.BinaryMarketABI, Bytecode: bytecode}
		deps.StakeToken = cfg.Chain.StakeToken
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := OpenS3(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.MarketStore,
			deps.PredictionStore,
			deps.AuditStore,
		)
		deps.Checks = append(deps.Checks, handler.Check{Name: "s3", Ping: s3Client.Health})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// OpenPostgres connects to the configured database.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	c, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:             cfg.Postgres.DSN,
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		Database:        cfg.Postgres.Database,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.PoolMaxConns,
		MinConns:        cfg.Postgres.PoolMinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: postgres: %w", err)
	}
	return c, nil
}

// OpenS3 builds the archive bucket client.
func OpenS3(ctx context.Context, cfg *config.Config) (*s3blob.Client, error) {
	c, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		KeyPrefix:      cfg.S3.KeyPrefix,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: s3: %w", err)
	}
	return c, nil
}

func dialChain(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chain.Backend, func(), error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.PrivateKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		KeyPassword:      cfg.Chain.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	}
	signer, err := crypto.NewTxSigner(key, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	backend, ec, err := chain.Dial(dialCtx, cfg.Chain.RPCURL, signer, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	logger.InfoContext(ctx, "settlement chain connected",
		slog.String("operator", signer.Address().Hex()),
		slog.Int64("chain_id", cfg.Chain.ChainID),
	)
	return backend.WithPollInterval(cfg.Chain.PollInterval.Duration), ec.Close, nil
}
