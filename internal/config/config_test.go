package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	st := cfg.AdminSettings()
	assert.Equal(t, 0.03, st.ThresholdFor("Economy"))
	assert.Equal(t, 0.05, st.ThresholdFor("Sports"))
	assert.Equal(t, 6*time.Hour, st.BigMoveTimeWindow.Std())
	assert.Equal(t, time.Minute, st.PriceUpdateInterval.Std())
	assert.Equal(t, "09:00", st.DailyUpdateTime)
	assert.Equal(t, []string{"Elections", "Economy", "Geopolitics"}, st.Categories)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pmagg.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "scheduler"

[kalshi]
enabled = true
email = "ops@example.com"
password = "pw"

[alerts]
default_threshold = 0.07
window = "3h"
categories = ["Economy"]

[schedule]
timezone = "America/New_York"
`), 0o600))

	t.Setenv("PMAGG_KALSHI_PASSWORD", "from-env")
	t.Setenv("PMAGG_ALERTS_PRICE_UPDATE_INTERVAL", "2m")
	t.Setenv("PMAGG_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeScheduler, cfg.Mode)
	assert.True(t, cfg.Kalshi.Enabled)
	assert.Equal(t, "from-env", cfg.Kalshi.Password)
	assert.Equal(t, 0.07, cfg.Alerts.DefaultThreshold)
	assert.Equal(t, 3*time.Hour, cfg.Alerts.Window.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Alerts.PriceUpdateInterval.Duration)
	assert.Equal(t, []string{"Economy"}, cfg.Alerts.Categories)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Untouched sections keep their defaults.
	assert.Equal(t, "https://api.manifold.markets", cfg.Manifold.BaseURL)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Kalshi.Enabled = true
	cfg.Polymarket.Enabled = true
	cfg.Alerts.DefaultThreshold = 2
	cfg.Alerts.DailyUpdateTime = "9am"
	cfg.Schedule.Timezone = "Mars/Olympus"
	cfg.Twilio.Enabled = true

	err := cfg.Validate()
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	for _, want := range []string{
		"unknown mode",
		"kalshi: set email and password",
		"wallet: private_key or encrypted_key_path",
		"default_threshold",
		"daily_update_time",
		"timezone",
		"twilio:",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRequiresASource(t *testing.T) {
	cfg := Defaults()
	cfg.PredictIt.Enabled = false
	cfg.Manifold.Enabled = false
	assert.ErrorContains(t, cfg.Validate(), "at least one of")

	cfg.Mode = ModeDigest
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Kalshi.Password = "pw"
	cfg.Twilio.AuthToken = "tok"
	cfg.Server.AdminKey = "admin"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Kalshi.Password)
	assert.Equal(t, "***", out.Twilio.AuthToken)
	assert.Equal(t, "***", out.Server.AdminKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Wallet.PrivateKey)
	assert.Equal(t, "pw", cfg.Kalshi.Password)

	out.Alerts.Thresholds["Economy"] = 0.9
	assert.Equal(t, 0.03, cfg.Alerts.Thresholds["Economy"])
}
