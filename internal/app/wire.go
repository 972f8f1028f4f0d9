package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/royaltymarket/internal/blob/s3"
	"github.com/alanyoungcy/royaltymarket/internal/cache/redis"
	"github.com/alanyoungcy/royaltymarket/internal/config"
	"github.com/alanyoungcy/royaltymarket/internal/crypto"
	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/notify"
	"github.com/alanyoungcy/royaltymarket/internal/platform/evm"
	memplatform "github.com/alanyoungcy/royaltymarket/internal/platform/memory"
	"github.com/alanyoungcy/royaltymarket/internal/server/handler"
	memstore "github.com/alanyoungcy/royaltymarket/internal/store/memory"
	"github.com/alanyoungcy/royaltymarket/internal/store/postgres"
)

// migrationLockKey serialises schema migrations across instances.
const migrationLockKey = "migrations"

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Stores  domain.Stores
	History s3blob.AuditHistory
	// Payouts is the postgres outbox; nil on the memory backend.
	Payouts *postgres.PayoutStore

	// Settlement collaborators
	Registry domain.AssetRegistry
	Payer    domain.Payer

	// Redis (all nil when redis is disabled)
	Bus         domain.EventBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Archiving (nil when disabled)
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Health   []handler.HealthCheck
}

// Wire constructs the concrete implementations selected by cfg and returns
// them with a cleanup function to call on shutdown.
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

	deps := &Dependencies{}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
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
		closers = append(closers, func() { _ = rc.Close() })

		deps.Bus = redis.NewEventBus(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.Health = append(deps.Health, handler.HealthCheck{Name: "redis", Check: rc.Health})
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- Stores ---
	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := runMigrations(ctx, pg, deps.LockManager, logger); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pg.Pool()
		deps.Stores = postgres.NewStores(pool)
		deps.History = postgres.NewAuditStore(pool)
		deps.Payouts = postgres.NewPayoutStore(pool)
		deps.Payer = deps.Payouts
		deps.Health = append(deps.Health, handler.HealthCheck{Name: "postgres", Check: pg.Health})
	default:
		mem := memstore.New()
		deps.Stores = mem.Stores()
		deps.History = mem.Audit()
		deps.Payer = memplatform.NewWallet()
		logger.WarnContext(ctx, "using in-memory storage; state is lost on exit")
	}

	// --- Asset registry ---
	marketplace := common.HexToAddress(cfg.Market.Address)
	switch cfg.Chain.Registry {
	case "evm":
		reg, closeClient, err := dialRegistry(ctx, cfg, marketplace, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closeClient)
		deps.Registry = reg
	default:
		reg := memplatform.NewRegistry(marketplace)
		if err := seedRegistry(reg, cfg.Chain.Seed, marketplace); err != nil {
			return fail(fmt.Errorf("wire: seed registry: %w", err))
		}
		deps.Registry = reg
	}

	// --- Archive (optional in server mode) ---
	if cfg.Archive.Enabled || strings.EqualFold(cfg.Mode, "archive") {
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
		deps.Archiver = s3blob.NewEventArchiver(
			s3blob.NewWriter(s3Client, 0),
			s3blob.NewReader(s3Client),
			deps.History,
			deps.Stores.Audit,
			logger,
		)
		deps.Health = append(deps.Health, handler.HealthCheck{Name: "s3", Check: s3Client.Health})
	}

	deps.Notifier = buildNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

// dialRegistry connects to the chain and builds an ERC-721 registry driven by
// the marketplace key. The key must belong to the configured marketplace
// address, since that is the identity sellers approve.
func dialRegistry(ctx context.Context, cfg *config.Config, marketplace common.Address, logger *slog.Logger) (*evm.Registry, func(), error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: dial %s: %w", cfg.Chain.RPCURL, err)
	}

	reg, err := evm.NewRegistry(client, key, evm.Config{
		ChainID:        big.NewInt(cfg.Chain.ChainID),
		Confirmations:  uint64(cfg.Chain.Confirmations),
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
	}, logger)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("wire: evm registry: %w", err)
	}
	if reg.Operator() != marketplace {
		client.Close()
		return nil, nil, fmt.Errorf("wire: wallet address %s does not match market.address %s", reg.Operator().Hex(), marketplace.Hex())
	}

	logger.InfoContext(ctx, "evm registry ready",
		slog.String("operator", reg.Operator().Hex()),
		slog.Int64("chain_id", cfg.Chain.ChainID),
	)
	return reg, client.Close, nil
}

// runMigrations applies migrations, holding the redis lock when one is
// available so that only one instance migrates at a time.
func runMigrations(ctx context.Context, pg *postgres.Client, locks domain.LockManager, logger *slog.Logger) error {
	if locks == nil {
		return pg.RunMigrations(ctx)
	}
	for attempt := 0; attempt < 30; attempt++ {
		held, err := redis.WithLock(ctx, locks, migrationLockKey, 2*time.Minute, pg.RunMigrations)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
		logger.InfoContext(ctx, "waiting for another instance to finish migrations")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return errors.New("timed out waiting for the migration lock")
}

// seedRegistry mints the configured assets and approves the marketplace as
// operator for each owner.
func seedRegistry(reg *memplatform.Registry, seed []config.SeedAsset, marketplace common.Address) error {
	for _, a := range seed {
		id, ok := new(big.Int).SetString(a.AssetID, 10)
		if !ok {
			return fmt.Errorf("invalid asset id %q", a.AssetID)
		}
		registry, owner := common.HexToAddress(a.Registry), common.HexToAddress(a.Owner)
		if err := reg.Mint(registry, id, owner); err != nil {
			return err
		}
		reg.SetApprovalForAll(registry, owner, marketplace, true)
	}
	return nil
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
