package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env if present
// and applies PMAGG_* overrides. An empty path skips the file. The result
// is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets deployments inject secrets and toggles without
// editing the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Sources ──
	setBool(&cfg.Kalshi.Enabled, "PMAGG_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.BaseURL, "PMAGG_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.Email, "PMAGG_KALSHI_EMAIL")
	setStr(&cfg.Kalshi.Password, "PMAGG_KALSHI_PASSWORD")
	setStr(&cfg.Kalshi.APIKeyID, "PMAGG_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RSAPrivateKeyPath, "PMAGG_KALSHI_RSA_PRIVATE_KEY_PATH")

	setBool(&cfg.PredictIt.Enabled, "PMAGG_PREDICTIT_ENABLED")
	setStr(&cfg.PredictIt.BaseURL, "PMAGG_PREDICTIT_BASE_URL")
	setDuration(&cfg.PredictIt.SnapshotTTL, "PMAGG_PREDICTIT_SNAPSHOT_TTL")

	setBool(&cfg.Polymarket.Enabled, "PMAGG_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.ClobHost, "PMAGG_POLYMARKET_CLOB_HOST")
	setInt(&cfg.Polymarket.ChainID, "PMAGG_POLYMARKET_CHAIN_ID")

	setBool(&cfg.Manifold.Enabled, "PMAGG_MANIFOLD_ENABLED")
	setStr(&cfg.Manifold.BaseURL, "PMAGG_MANIFOLD_BASE_URL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PMAGG_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PMAGG_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PMAGG_WALLET_KEY_PASSWORD")

	// ── HTTP ──
	setDuration(&cfg.HTTP.Timeout, "PMAGG_HTTP_TIMEOUT")
	setInt(&cfg.HTTP.Attempts, "PMAGG_HTTP_ATTEMPTS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PMAGG_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PMAGG_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "PMAGG_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PMAGG_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PMAGG_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PMAGG_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PMAGG_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PMAGG_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "PMAGG_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PMAGG_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PMAGG_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PMAGG_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PMAGG_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PMAGG_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PMAGG_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PMAGG_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PMAGG_S3_REGION")
	setStr(&cfg.S3.Bucket, "PMAGG_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PMAGG_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PMAGG_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PMAGG_S3_FORCE_PATH_STYLE")

	// ── Schedule ──
	setStr(&cfg.Schedule.Timezone, "PMAGG_SCHEDULE_TIMEZONE")
	setStr(&cfg.Schedule.ArchiveCron, "PMAGG_SCHEDULE_ARCHIVE_CRON")
	setBool(&cfg.Schedule.RunOnStart, "PMAGG_SCHEDULE_RUN_ON_START")
	setInt(&cfg.Schedule.RefreshConcurrency, "PMAGG_SCHEDULE_REFRESH_CONCURRENCY")

	// ── Alerts ──
	setFloat64(&cfg.Alerts.DefaultThreshold, "PMAGG_ALERTS_DEFAULT_THRESHOLD")
	setDuration(&cfg.Alerts.Window, "PMAGG_ALERTS_WINDOW")
	setDuration(&cfg.Alerts.PriceUpdateInterval, "PMAGG_ALERTS_PRICE_UPDATE_INTERVAL")
	setDuration(&cfg.Alerts.DiscoveryInterval, "PMAGG_ALERTS_DISCOVERY_INTERVAL")
	setStr(&cfg.Alerts.DailyUpdateTime, "PMAGG_ALERTS_DAILY_UPDATE_TIME")
	setStringSlice(&cfg.Alerts.Categories, "PMAGG_ALERTS_CATEGORIES")
	setInt(&cfg.Alerts.SMSLimit, "PMAGG_ALERTS_SMS_LIMIT")
	setDuration(&cfg.Alerts.SMSWindow, "PMAGG_ALERTS_SMS_WINDOW")

	// ── Twilio ──
	setBool(&cfg.Twilio.Enabled, "PMAGG_TWILIO_ENABLED")
	setStr(&cfg.Twilio.AccountSID, "PMAGG_TWILIO_ACCOUNT_SID")
	setStr(&cfg.Twilio.AuthToken, "PMAGG_TWILIO_AUTH_TOKEN")
	setStr(&cfg.Twilio.From, "PMAGG_TWILIO_FROM")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PMAGG_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PMAGG_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PMAGG_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PMAGG_NOTIFY_EVENTS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PMAGG_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PMAGG_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminKey, "PMAGG_SERVER_ADMIN_KEY")

	// ── Log ──
	setStr(&cfg.Log.File, "PMAGG_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "PMAGG_MODE")
	setStr(&cfg.LogLevel, "PMAGG_LOG_LEVEL")
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

func setDuration(dst *duration, key string) {
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
