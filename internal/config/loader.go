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

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BULLBEAR_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BULLBEAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.DefaultMaxAge, "BULLBEAR_ENGINE_DEFAULT_MAX_AGE")
	setDuration(&cfg.Engine.ClaimWindow, "BULLBEAR_ENGINE_CLAIM_WINDOW")
	setStr(&cfg.Engine.CustodySecret, "BULLBEAR_ENGINE_CUSTODY_SECRET")
	setInt(&cfg.Engine.EventQueue, "BULLBEAR_ENGINE_EVENT_QUEUE")

	// ── Store ──
	setStr(&cfg.Store.Backend, "BULLBEAR_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BULLBEAR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BULLBEAR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BULLBEAR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BULLBEAR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BULLBEAR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BULLBEAR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BULLBEAR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BULLBEAR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BULLBEAR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BULLBEAR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BULLBEAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BULLBEAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BULLBEAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BULLBEAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BULLBEAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BULLBEAR_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BULLBEAR_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "BULLBEAR_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BULLBEAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BULLBEAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "BULLBEAR_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "BULLBEAR_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "BULLBEAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BULLBEAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BULLBEAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BULLBEAR_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "BULLBEAR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BULLBEAR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "BULLBEAR_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimit, "BULLBEAR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BULLBEAR_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.EnvelopeMaxTTL, "BULLBEAR_SERVER_ENVELOPE_MAX_TTL")

	// ── Keeper ──
	setStringSlice(&cfg.Keeper.Games, "BULLBEAR_KEEPER_GAMES")
	setDuration(&cfg.Keeper.Tick, "BULLBEAR_KEEPER_TICK")
	setDuration(&cfg.Keeper.LockTTL, "BULLBEAR_KEEPER_LOCK_TTL")
	setStr(&cfg.Keeper.PrivateKey, "BULLBEAR_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.KeyFile, "BULLBEAR_KEEPER_KEY_FILE")
	setStr(&cfg.Keeper.KeyPassword, "BULLBEAR_KEEPER_KEY_PASSWORD")

	// ── Oracle ──
	setStr(&cfg.Oracle.Source, "BULLBEAR_ORACLE_SOURCE")
	setStr(&cfg.Oracle.HermesURL, "BULLBEAR_ORACLE_HERMES_URL")
	setStringSlice(&cfg.Oracle.Feeds, "BULLBEAR_ORACLE_FEEDS")

	// ── Auth ──
	setDuration(&cfg.Auth.NonceTTL, "BULLBEAR_AUTH_NONCE_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BULLBEAR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BULLBEAR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BULLBEAR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BULLBEAR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BULLBEAR_MODE")
	setStr(&cfg.LogLevel, "BULLBEAR_LOG_LEVEL")
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
