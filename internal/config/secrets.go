package config

// RedactedConfig returns a copy of cfg with every secret replaced by "***",
// safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Kalshi.Password)
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Twilio.AuthToken)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.AdminKey)

	// Slices and maps are copied so the redacted value cannot alias cfg.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Alerts.Categories = append([]string(nil), cfg.Alerts.Categories...)
	if cfg.Alerts.Thresholds != nil {
		out.Alerts.Thresholds = make(map[string]float64, len(cfg.Alerts.Thresholds))
		for k, v := range cfg.Alerts.Thresholds {
			out.Alerts.Thresholds[k] = v
		}
	}

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
