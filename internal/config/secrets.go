package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Engine.CustodySecret)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.AdminAPIKey)
	redact(&out.Keeper.PrivateKey)
	redact(&out.Keeper.KeyPassword)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Keeper.Games = cloneStrings(cfg.Keeper.Games)
	out.Oracle.Feeds = cloneStrings(cfg.Oracle.Feeds)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	if cfg.Oracle.Static != nil {
		out.Oracle.Static = append([]StaticPrice(nil), cfg.Oracle.Static...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
