// Package config defines the top-level configuration for bullbear and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BULLBEAR_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Engine   EngineConfig   `toml:"engine"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Oracle   OracleConfig   `toml:"oracle"`
	Auth     AuthConfig     `toml:"auth"`
	Notify   NotifyConfig   `toml:"notify"`
}

// EngineConfig tunes the round engine.
type EngineConfig struct {
	// DefaultMaxAge is the oracle staleness bound used when a caller does
	// not pass one.
	DefaultMaxAge duration `toml:"default_max_age"`
	ClaimWindow   duration `toml:"claim_window"`
	// CustodySecret keys the seal on vault authorities.
	CustodySecret string `toml:"custody_secret"`
	EventQueue    int    `toml:"event_queue"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory | postgres
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. An empty Addr runs every
// cache in process.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the receipt
// archive. An empty Bucket disables the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	AdminAPIKey    string   `toml:"admin_api_key"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	EnvelopeMaxTTL duration `toml:"envelope_max_ttl"`
}

// KeeperConfig configures the round keeper and the key it signs with.
type KeeperConfig struct {
	Games       []string `toml:"games"`
	Tick        duration `toml:"tick"`
	LockTTL     duration `toml:"lock_ttl"`
	PrivateKey  string   `toml:"private_key"`
	KeyFile     string   `toml:"key_file"`
	KeyPassword string   `toml:"key_password"`
}

// OracleConfig selects where settlement prices come from.
type OracleConfig struct {
	Source    string        `toml:"source"` // static | redis
	HermesURL string        `toml:"hermes_url"`
	Feeds     []string      `toml:"feeds"`
	Static    []StaticPrice `toml:"static"`
}

// StaticPrice seeds the static source. Observations without a publish
// time read as fresh.
type StaticPrice struct {
	FeedID string `toml:"feed_id"`
	Price  int64  `toml:"price"`
	Expo   int32  `toml:"expo"`
}

// AuthConfig holds replay-protection parameters.
type AuthConfig struct {
	NonceTTL duration `toml:"nonce_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Engine: EngineConfig{
			DefaultMaxAge: duration{60 * time.Second},
			ClaimWindow:   duration{7 * 24 * time.Hour},
			EventQueue:    1024,
		},
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bullbear",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "bullbear:",
			PriceTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "receipts/",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			EnvelopeMaxTTL: duration{10 * time.Minute},
		},
		Keeper: KeeperConfig{
			Tick:    duration{5 * time.Second},
			LockTTL: duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			Source:    "static",
			HermesURL: "wss://hermes.pyth.network/ws",
		},
		Auth: AuthConfig{NonceTTL: duration{10 * time.Minute}},
		Notify: NotifyConfig{
			Events: []string{"round_ended", "round_swept"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"feeder": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool { return c.Mode == "server" || c.Mode == "full" }

// RunsKeeper reports whether the mode drives rounds. Full mode runs the
// keeper only when games are listed.
func (c *Config) RunsKeeper() bool {
	return c.Mode == "keeper" || (c.Mode == "full" && len(c.Keeper.Games) > 0)
}

// RunsFeeder reports whether the mode streams prices into the cache. Full
// mode runs the feeder only when feeds are listed.
func (c *Config) RunsFeeder() bool {
	return c.Mode == "feeder" || (c.Mode == "full" && len(c.Oracle.Feeds) > 0)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	c.Mode = strings.ToLower(c.Mode)

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, feeder, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.DefaultMaxAge.Duration <= 0 {
		errs = append(errs, "engine: default_max_age must be > 0")
	}
	if c.Engine.ClaimWindow.Duration <= 0 {
		errs = append(errs, "engine: claim_window must be > 0")
	}
	if (c.RunsServer() || c.RunsKeeper()) && len(c.Engine.CustodySecret) < 16 {
		errs = append(errs, "engine: custody_secret must be at least 16 characters")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
		if c.Mode == "keeper" {
			errs = append(errs, "store: keeper mode needs a shared store (backend = \"postgres\")")
		}
	case "postgres":
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
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must be set when bucket is set")
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Auth.NonceTTL.Duration < c.Server.EnvelopeMaxTTL.Duration {
			errs = append(errs, "auth: nonce_ttl must not be shorter than server.envelope_max_ttl")
		}
	}

	// Keeper
	if c.RunsKeeper() {
		if c.Keeper.PrivateKey == "" && c.Keeper.KeyFile == "" {
			errs = append(errs, "keeper: either private_key or key_file must be set for mode "+c.Mode)
		}
		if c.Keeper.KeyFile != "" && c.Keeper.PrivateKey == "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when key_file is set")
		}
		if c.Keeper.Tick.Duration <= 0 {
			errs = append(errs, "keeper: tick must be > 0")
		}
		if c.Keeper.LockTTL.Duration < c.Keeper.Tick.Duration {
			errs = append(errs, "keeper: lock_ttl must not be shorter than tick")
		}
	}

	// Oracle
	switch c.Oracle.Source {
	case "static":
		if c.Mode == "keeper" {
			errs = append(errs, "oracle: keeper mode needs a shared price source (source = \"redis\")")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "oracle: source \"redis\" needs redis.addr")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown source %q (valid: static, redis)", c.Oracle.Source))
	}
	if c.RunsFeeder() {
		if c.Mode == "feeder" && c.Oracle.Source != "redis" {
			errs = append(errs, "feeder: oracle.source must be \"redis\" so prices reach other processes")
		}
		if c.Oracle.HermesURL == "" {
			errs = append(errs, "oracle: hermes_url must not be empty for mode "+c.Mode)
		}
		if len(c.Oracle.Feeds) == 0 {
			errs = append(errs, "oracle: feeds must list at least one feed id for mode "+c.Mode)
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
