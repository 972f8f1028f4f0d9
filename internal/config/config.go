// Package config defines the configuration of the marketplace daemon and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds the process-wide marketplace parameters. They are fixed
// for the lifetime of the process.
type MarketConfig struct {
	// Address is the identity asset owners approve so the marketplace can
	// move their assets. With the evm registry it must match the wallet key.
	Address string `toml:"address"`
	// Owner receives marketplace fees and may cancel any listing.
	Owner  string `toml:"owner"`
	FeeBps int    `toml:"fee_bps"`
}

// StorageConfig selects where listings, royalties and earnings live.
type StorageConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis backs the event bus,
// API rate limiting and the distributed locks.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig selects the asset registry backend.
type ChainConfig struct {
	Registry       string   `toml:"registry"` // memory | evm
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	Confirmations  int      `toml:"confirmations"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	// Seed pre-mints assets into the memory registry, each approved to the
	// marketplace for all of its owner's assets.
	Seed []SeedAsset `toml:"seed"`
}

// SeedAsset is one asset minted at startup by the memory registry.
type SeedAsset struct {
	Registry string `toml:"registry"`
	AssetID  string `toml:"asset_id"`
	Owner    string `toml:"owner"`
}

// WalletConfig holds the marketplace signing key used for on-chain
// transfers.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RequireSignatures makes every mutating request prove control of the
	// X-Account address with an EIP-191 signature.
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxAge   duration `toml:"signature_max_age"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
}

// ArchiveConfig controls copying of the audit log to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			FeeBps: 250,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-archive",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			Registry:       "memory",
			ChainID:        1,
			Confirmations:  1,
			ReceiptTimeout: duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxAge: duration{5 * time.Minute},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"sale_completed", "listing_cancelled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if !common.IsHexAddress(c.Market.Address) || common.HexToAddress(c.Market.Address) == (common.Address{}) {
		errs = append(errs, fmt.Sprintf("market: address must be a non-zero hex address, got %q", c.Market.Address))
	}
	if !common.IsHexAddress(c.Market.Owner) || common.HexToAddress(c.Market.Owner) == (common.Address{}) {
		errs = append(errs, fmt.Sprintf("market: owner must be a non-zero hex address, got %q", c.Market.Owner))
	}
	if c.Market.FeeBps < 0 || c.Market.FeeBps > 9000 {
		errs = append(errs, fmt.Sprintf("market: fee_bps must be 0-9000, got %d", c.Market.FeeBps))
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Chain
	switch c.Chain.Registry {
	case "memory":
		for i, a := range c.Chain.Seed {
			if !common.IsHexAddress(a.Registry) || !common.IsHexAddress(a.Owner) {
				errs = append(errs, fmt.Sprintf("chain: seed[%d]: registry and owner must be hex addresses", i))
			}
			if id, ok := new(big.Int).SetString(a.AssetID, 10); !ok || id.Sign() < 0 {
				errs = append(errs, fmt.Sprintf("chain: seed[%d]: asset_id must be a non-negative integer, got %q", i, a.AssetID))
			}
		}
	case "evm":
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for the evm registry")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.Confirmations < 0 {
			errs = append(errs, "chain: confirmations must be >= 0")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for the evm registry")
		}
		if c.Storage.Backend != "postgres" {
			errs = append(errs, "storage: the evm registry requires the postgres backend for payouts")
		}
		// Real assets move on an unauthenticated caller's word otherwise.
		if !c.Server.RequireSignatures {
			errs = append(errs, "server: require_signatures must be true for the evm registry")
		}
		if c.Server.APIKey == "" {
			errs = append(errs, "server: api_key is required for the evm registry")
		}
	default:
		errs = append(errs, fmt.Sprintf("chain: unknown registry %q (valid: memory, evm)", c.Chain.Registry))
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxAge.Duration <= 0 {
			errs = append(errs, "server: signature_max_age must be positive when require_signatures is set")
		}
	}

	// Archive
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
