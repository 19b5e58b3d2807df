package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/fpidot/pm-aggregator/internal/blob/s3"
	"github.com/fpidot/pm-aggregator/internal/cache/redis"
	"github.com/fpidot/pm-aggregator/internal/config"
	"github.com/fpidot/pm-aggregator/internal/crypto"
	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/metrics"
	"github.com/fpidot/pm-aggregator/internal/notify"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
	"github.com/fpidot/pm-aggregator/internal/platform/kalshi"
	"github.com/fpidot/pm-aggregator/internal/platform/manifold"
	"github.com/fpidot/pm-aggregator/internal/platform/polymarket"
	"github.com/fpidot/pm-aggregator/internal/platform/predictit"
	"github.com/fpidot/pm-aggregator/internal/server/handler"
	"github.com/fpidot/pm-aggregator/internal/store/memory"
	"github.com/fpidot/pm-aggregator/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Contracts   domain.ContractStore
	Settings    domain.SettingsStore
	Subscribers domain.SubscriberStore
	Audit       domain.AuditStore

	// Caches
	PriceCache domain.PriceCache
	Bus        domain.SignalBus
	Limiter    domain.RateLimiter

	// Blob is nil when the archive is disabled.
	Blob domain.BlobWriter

	Sources  []domain.SourceAdapter
	SMS      domain.SMSSender
	Notifier *notify.Notifier

	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	// Checks feed the health endpoint, keyed by backend name.
	Checks map[string]handler.Check
}

// Wire constructs the concrete implementations selected by cfg and returns
// them with a cleanup function that releases connections in reverse order.
// Postgres and Redis fall back to in-process stores when disabled.
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

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Contracts = postgres.NewContractStore(pool)
		deps.Settings = postgres.NewSettingsStore(pool)
		deps.Subscribers = postgres.NewSubscriberStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "postgres disabled; state is kept in memory")
		deps.Contracts = memory.NewContractStore()
		deps.Settings = memory.NewSettingsStore()
		deps.Subscribers = memory.NewSubscriberStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			KeyPrefix:  cfg.Redis.KeyPrefix,
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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.PriceCache = memory.NewPriceCache()
		deps.Bus = memory.NewSignalBus()
		deps.Limiter = memory.NewRateLimiter()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blob = s3blob.NewWriter(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	httpCfg := httpConfig(cfg)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBaseURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Twilio.Enabled {
		deps.SMS = notify.NewTwilioSender(notify.TwilioConfig{
			BaseURL:    cfg.Twilio.BaseURL,
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
		}, httpCfg, logger)
	} else {
		logger.WarnContext(ctx, "twilio disabled; outgoing SMS are logged only")
		deps.SMS = notify.NewLogSender(logger)
	}

	// --- Sources ---
	if cfg.NeedsSources() {
		sources, err := buildSources(cfg, httpCfg, logger)
		if err != nil {
			return fail(err)
		}
		deps.Sources = sources
	}

	return deps, cleanup, nil
}

// httpConfig overlays configured retry settings on the adapter defaults.
func httpConfig(cfg *config.Config) httpx.Config {
	out := httpx.DefaultConfig()
	if cfg.HTTP.Timeout.Duration > 0 {
		out.Timeout = cfg.HTTP.Timeout.Duration
	}
	if cfg.HTTP.Attempts > 0 {
		out.Attempts = cfg.HTTP.Attempts
	}
	if cfg.HTTP.RetryWait.Duration > 0 {
		out.RetryWait = cfg.HTTP.RetryWait.Duration
	}
	if cfg.HTTP.RetryMaxWait.Duration > 0 {
		out.RetryMaxWait = cfg.HTTP.RetryMaxWait.Duration
	}
	if cfg.HTTP.UserAgent != "" {
		out.UserAgent = cfg.HTTP.UserAgent
	}
	return out
}

// buildSources creates one adapter per enabled market, in a fixed order.
func buildSources(cfg *config.Config, httpCfg httpx.Config, logger *slog.Logger) ([]domain.SourceAdapter, error) {
	var sources []domain.SourceAdapter

	if cfg.Kalshi.Enabled {
		kc := kalshi.Config{
			BaseURL:   cfg.Kalshi.BaseURL,
			Email:     cfg.Kalshi.Email,
			Password:  cfg.Kalshi.Password,
			APIKeyID:  cfg.Kalshi.APIKeyID,
			PageLimit: cfg.Kalshi.PageLimit,
			MaxPages:  cfg.Kalshi.MaxPages,
		}
		if cfg.Kalshi.RSAPrivateKeyPath != "" {
			pem, err := os.ReadFile(cfg.Kalshi.RSAPrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("wire: kalshi private key: %w", err)
			}
			kc.PrivateKeyPEM = pem
		}
		a, err := kalshi.New(kc, httpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		sources = append(sources, a)
	}

	if cfg.PredictIt.Enabled {
		sources = append(sources, predictit.New(predictit.Config{
			BaseURL:     cfg.PredictIt.BaseURL,
			SnapshotTTL: cfg.PredictIt.SnapshotTTL.Duration,
		}, httpCfg, logger))
	}

	if cfg.Polymarket.Enabled {
		pc := polymarket.Config{
			ClobHost: cfg.Polymarket.ClobHost,
			MaxPages: cfg.Polymarket.MaxPages,
		}
		key, err := crypto.LoadKey(crypto.KeySource{
			RawKey:   cfg.Wallet.PrivateKey,
			FilePath: cfg.Wallet.EncryptedKeyPath,
			Password: cfg.Wallet.KeyPassword,
		})
		switch {
		case err == nil:
			signer, err := crypto.NewWalletSigner(key, int64(cfg.Polymarket.ChainID))
			if err != nil {
				return nil, fmt.Errorf("wire: polymarket signer: %w", err)
			}
			pc.Signer = signer
		default:
			// The adapter still registers; discovery reports it as failed
			// until a key is configured.
			logger.Warn("polymarket wallet key unavailable", slog.String("error", err.Error()))
		}
		sources = append(sources, polymarket.New(pc, httpCfg, logger))
	}

	if cfg.Manifold.Enabled {
		sources = append(sources, manifold.New(manifold.Config{
			BaseURL:   cfg.Manifold.BaseURL,
			PageLimit: cfg.Manifold.PageLimit,
			MaxPages:  cfg.Manifold.MaxPages,
		}, httpCfg, logger))
	}

	return sources, nil
}
