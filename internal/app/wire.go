package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bullbear/internal/blob/s3"
	"github.com/alanyoungcy/bullbear/internal/cache/local"
	"github.com/alanyoungcy/bullbear/internal/cache/redis"
	"github.com/alanyoungcy/bullbear/internal/config"
	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/notify"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/store/memory"
	"github.com/alanyoungcy/bullbear/internal/store/postgres"
)

// localStreamMaxLen bounds the in-process event stream.
const localStreamMaxLen = 10000

// ledgerStore is a record store that can also total balances per token.
type ledgerStore interface {
	domain.Store
	handler.BalanceSummer
}

// Dependencies bundles every adapter the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store  ledgerStore
	Audit  domain.AuditStore
	Sealer *crypto.VaultSealer

	// Prices is where the feeder writes and the oracle reader reads.
	Prices  domain.PriceCache
	Bus     domain.SignalBus
	Nonces  domain.NonceGuard
	Limiter domain.RateLimiter
	Locks   domain.LockManager

	// Receipts is nil when no bucket is configured.
	Receipts *s3blob.ReceiptArchive
	Notifier *notify.Notifier

	// Checks back the readiness probe.
	Checks map[string]handler.Check
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

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Vault custody ---
	if cfg.Engine.CustodySecret != "" {
		sealer, err := crypto.NewVaultSealer(cfg.Engine.CustodySecret)
		if err != nil {
			return fail(fmt.Errorf("wire: custody: %w", err))
		}
		deps.Sealer = sealer
	}

	// --- Record store ---
	switch cfg.Store.Backend {
	case "postgres":
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
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Store = postgres.NewStore(pool, verifierOf(deps.Sealer))
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	default:
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart")
		deps.Store = memory.New(verifierOf(deps.Sealer))
		deps.Audit = memory.NewAuditStore()
	}

	// --- Caches: Redis when configured, in-process otherwise ---
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = c.Close() })
		redisClient = c

		deps.Bus = redis.NewSignalBus(c)
		deps.Nonces = redis.NewNonceGuard(c)
		deps.Limiter = redis.NewRateLimiter(c)
		deps.Locks = redis.NewLockManager(c)
		deps.Checks["redis"] = c.Ping
	} else {
		deps.Bus = local.NewBus(localStreamMaxLen)
		deps.Nonces = local.NewNonceGuard()
		deps.Limiter = local.NewRateLimiter()
		deps.Locks = local.NewLockManager()
	}

	// --- Oracle prices ---
	switch cfg.Oracle.Source {
	case "redis":
		if redisClient == nil {
			return fail(fmt.Errorf("wire: oracle source redis needs redis.addr"))
		}
		deps.Prices = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	default:
		static := oracle.NewStaticSource(domain.SystemClock{})
		for _, p := range cfg.Oracle.Static {
			err := static.SetPrice(ctx, domain.PriceObservation{FeedID: p.FeedID, Price: p.Price, Expo: p.Expo})
			if err != nil {
				return fail(fmt.Errorf("wire: seed static price %s: %w", p.FeedID, err))
			}
		}
		deps.Prices = static
	}

	// --- S3 receipt archive ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Receipts = s3blob.NewReceiptArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(notify.TelegramConfig{
			Token:  cfg.Notify.TelegramToken,
			ChatID: cfg.Notify.TelegramChatID,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: telegram: %w", err))
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// verifierOf returns the sealer's verifier. Without a custody secret no
// vault authority verifies, which only feeder mode allows.
func verifierOf(s *crypto.VaultSealer) domain.VaultVerifier {
	if s == nil {
		return rejectAll{}
	}
	return s.Verifier()
}

type rejectAll struct{}

func (rejectAll) Verify(domain.VaultAuthority) bool { return false }
