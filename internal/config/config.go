// Package config defines the aggregator's configuration: a TOML file decoded
// over Defaults, then PMAGG_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Config is the root configuration structure.
type Config struct {
	Kalshi     KalshiConfig     `toml:"kalshi"`
	PredictIt  PredictItConfig  `toml:"predictit"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Manifold   ManifoldConfig   `toml:"manifold"`
	Wallet     WalletConfig     `toml:"wallet"`
	HTTP       HTTPConfig       `toml:"http"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Twilio     TwilioConfig     `toml:"twilio"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// KalshiConfig authenticates either by email/password login or, when
// api_key_id and rsa_private_key_path are both set, by RSA-PSS signing.
type KalshiConfig struct {
	Enabled           bool   `toml:"enabled"`
	BaseURL           string `toml:"base_url"`
	Email             string `toml:"email"`
	Password          string `toml:"password"`
	APIKeyID          string `toml:"api_key_id"`
	RSAPrivateKeyPath string `toml:"rsa_private_key_path"`
	PageLimit         int    `toml:"page_limit"`
	MaxPages          int    `toml:"max_pages"`
}

type PredictItConfig struct {
	Enabled     bool     `toml:"enabled"`
	BaseURL     string   `toml:"base_url"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

type PolymarketConfig struct {
	Enabled  bool   `toml:"enabled"`
	ClobHost string `toml:"clob_host"`
	ChainID  int    `toml:"chain_id"`
	MaxPages int    `toml:"max_pages"`
}

type ManifoldConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	PageLimit int    `toml:"page_limit"`
	MaxPages  int    `toml:"max_pages"`
}

// WalletConfig holds the Polymarket wallet key, raw or as an encrypted file.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HTTPConfig is the retry policy shared by every source adapter and Twilio.
type HTTPConfig struct {
	Timeout      duration `toml:"timeout"`
	Attempts     int      `toml:"attempts"`
	RetryWait    duration `toml:"retry_wait"`
	RetryMaxWait duration `toml:"retry_max_wait"`
	UserAgent    string   `toml:"user_agent"`
}

// PostgresConfig holds connection parameters. When disabled the process
// keeps state in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config is the price-history archive target.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ScheduleConfig tunes the in-process scheduler. Intervals for discovery
// and refresh come from the admin settings, not from here.
type ScheduleConfig struct {
	Timezone           string   `toml:"timezone"`
	ArchiveCron        string   `toml:"archive_cron"`
	RunOnStart         bool     `toml:"run_on_start"`
	RefreshConcurrency int      `toml:"refresh_concurrency"`
	MinInterval        duration `toml:"min_interval"`
}

// AlertsConfig seeds the admin settings used until an operator saves their
// own, and limits SMS per phone.
type AlertsConfig struct {
	Thresholds          map[string]float64 `toml:"thresholds"`
	DefaultThreshold    float64            `toml:"default_threshold"`
	Window              duration           `toml:"window"`
	PriceUpdateInterval duration           `toml:"price_update_interval"`
	DiscoveryInterval   duration           `toml:"discovery_interval"`
	DailyUpdateTime     string             `toml:"daily_update_time"`
	Categories          []string           `toml:"categories"`
	SMSLimit            int                `toml:"sms_limit"`
	SMSWindow           duration           `toml:"sms_window"`
}

// TwilioConfig enables real SMS delivery; when disabled messages are logged.
type TwilioConfig struct {
	Enabled    bool   `toml:"enabled"`
	BaseURL    string `toml:"base_url"`
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	From       string `toml:"from"`
}

// NotifyConfig holds operator notification targets.
type NotifyConfig struct {
	TelegramBaseURL   string   `toml:"telegram_base_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

type ServerConfig struct {
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	AdminKey      string   `toml:"admin_key"`
	WebhookLimit  int      `toml:"webhook_limit"`
	WebhookWindow duration `toml:"webhook_window"`
}

// LogConfig adds an optional rotated file sink next to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration wraps time.Duration for TOML strings such as "6h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs every keyless source against memory
// storage.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			Enabled:   false,
			BaseURL:   "https://api.elections.kalshi.com/trade-api/v2",
			PageLimit: 200,
			MaxPages:  50,
		},
		PredictIt: PredictItConfig{
			Enabled:     true,
			BaseURL:     "https://www.predictit.org",
			SnapshotTTL: duration{30 * time.Second},
		},
		Polymarket: PolymarketConfig{
			Enabled:  false,
			ClobHost: "https://clob.polymarket.com",
			ChainID:  137,
			MaxPages: 100,
		},
		Manifold: ManifoldConfig{
			Enabled:   true,
			BaseURL:   "https://api.manifold.markets",
			PageLimit: 1000,
			MaxPages:  10,
		},
		HTTP: HTTPConfig{
			Timeout:      duration{10 * time.Second},
			Attempts:     3,
			RetryWait:    duration{500 * time.Millisecond},
			RetryMaxWait: duration{5 * time.Second},
			UserAgent:    "pm-aggregator/1.0",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pmagg",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "pmagg:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pmagg-history",
			ForcePathStyle: true,
			Prefix:         "price-history",
		},
		Schedule: ScheduleConfig{
			Timezone:           "UTC",
			ArchiveCron:        "30 23 * * *",
			RunOnStart:         true,
			RefreshConcurrency: 8,
			MinInterval:        duration{10 * time.Second},
		},
		Alerts: AlertsConfig{
			Thresholds: map[string]float64{
				"Elections":   0.05,
				"Economy":     0.03,
				"Geopolitics": 0.04,
			},
			DefaultThreshold:    0.05,
			Window:              duration{6 * time.Hour},
			PriceUpdateInterval: duration{time.Minute},
			DiscoveryInterval:   duration{6 * time.Hour},
			DailyUpdateTime:     "09:00",
			Categories:          []string{"Elections", "Economy", "Geopolitics"},
			SMSLimit:            10,
			SMSWindow:           duration{time.Hour},
		},
		Twilio: TwilioConfig{
			BaseURL: "https://api.twilio.com",
		},
		Notify: NotifyConfig{
			TelegramBaseURL: "https://api.telegram.org",
			Events:          []string{"all_sources_down", "pass_failed"},
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			WebhookLimit:  60,
			WebhookWindow: duration{time.Minute},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeFull      = "full"
	ModeScheduler = "scheduler"
	ModeServer    = "server"
	ModeDiscover  = "discover"
	ModeRefresh   = "refresh"
	ModeDigest    = "digest"
)

var validModes = map[string]bool{
	ModeFull:      true,
	ModeScheduler: true,
	ModeServer:    true,
	ModeDiscover:  true,
	ModeRefresh:   true,
	ModeDigest:    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// AdminSettings returns the settings used until an operator saves some.
func (c *Config) AdminSettings() domain.AdminSettings {
	thresholds := make(map[string]float64, len(c.Alerts.Thresholds))
	for k, v := range c.Alerts.Thresholds {
		thresholds[k] = v
	}
	return domain.AdminSettings{
		BigMoveThresholds:         thresholds,
		DefaultBigMoveThreshold:   c.Alerts.DefaultThreshold,
		BigMoveTimeWindow:         domain.Duration(c.Alerts.Window.Duration),
		PriceUpdateInterval:       domain.Duration(c.Alerts.PriceUpdateInterval.Duration),
		ContractDiscoveryInterval: domain.Duration(c.Alerts.DiscoveryInterval.Duration),
		DailyUpdateTime:           c.Alerts.DailyUpdateTime,
		Categories:                append([]string(nil), c.Alerts.Categories...),
	}
}

// Location resolves the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// NeedsSources reports whether the mode talks to external markets.
func (c *Config) NeedsSources() bool {
	switch c.Mode {
	case ModeFull, ModeScheduler, ModeDiscover, ModeRefresh, ModeServer:
		return true
	}
	return false
}

// Validate checks the configuration and returns every problem in one error.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, scheduler, server, discover, refresh, digest)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.NeedsSources() && !c.Kalshi.Enabled && !c.PredictIt.Enabled && !c.Polymarket.Enabled && !c.Manifold.Enabled {
		errs = append(errs, "at least one of kalshi, predictit, polymarket, manifold must be enabled")
	}
	if c.Kalshi.Enabled {
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url is required")
		}
		login := c.Kalshi.Email != "" && c.Kalshi.Password != ""
		signing := c.Kalshi.APIKeyID != "" && c.Kalshi.RSAPrivateKeyPath != ""
		if !login && !signing {
			errs = append(errs, "kalshi: set email and password, or api_key_id and rsa_private_key_path")
		}
	}
	if c.PredictIt.Enabled && c.PredictIt.BaseURL == "" {
		errs = append(errs, "predictit: base_url is required")
	}
	if c.Manifold.Enabled && c.Manifold.BaseURL == "" {
		errs = append(errs, "manifold: base_url is required")
	}
	if c.Polymarket.Enabled {
		if c.Polymarket.ClobHost == "" {
			errs = append(errs, "polymarket: clob_host is required")
		}
		if c.Polymarket.ChainID <= 0 {
			errs = append(errs, "polymarket: chain_id must be positive")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: private_key or encrypted_key_path is required when polymarket is enabled")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.HTTP.Attempts < 1 {
		errs = append(errs, "http: attempts must be at least 1")
	}
	if c.HTTP.Timeout.Duration <= 0 {
		errs = append(errs, "http: timeout must be positive")
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: dsn or host is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required")
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		errs = append(errs, "s3: bucket and region are required")
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("schedule: timezone %q: %v", c.Schedule.Timezone, err))
	}
	if c.Schedule.RefreshConcurrency < 1 {
		errs = append(errs, "schedule: refresh_concurrency must be at least 1")
	}

	if c.Alerts.DefaultThreshold <= 0 || c.Alerts.DefaultThreshold > 1 {
		errs = append(errs, "alerts: default_threshold must be in (0, 1]")
	}
	for cat, t := range c.Alerts.Thresholds {
		if t <= 0 || t > 1 {
			errs = append(errs, fmt.Sprintf("alerts: threshold for %q must be in (0, 1]", cat))
		}
	}
	if c.Alerts.Window.Duration <= 0 || c.Alerts.PriceUpdateInterval.Duration <= 0 || c.Alerts.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "alerts: window, price_update_interval and discovery_interval must be positive")
	}
	if _, err := time.Parse("15:04", c.Alerts.DailyUpdateTime); err != nil {
		errs = append(errs, fmt.Sprintf("alerts: daily_update_time %q must be HH:MM", c.Alerts.DailyUpdateTime))
	}

	if c.Twilio.Enabled && (c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.From == "") {
		errs = append(errs, "twilio: account_sid, auth_token and from are required when enabled")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Mode == ModeFull || c.Mode == ModeServer {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %s", domain.ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}
