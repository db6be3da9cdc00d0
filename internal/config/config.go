// Package config defines the top-level configuration for the copy trader
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYTRADER_* environment variables.
type Config struct {
	Polymarket PolymarketConfig  `toml:"polymarket"`
	Polygon    PolygonConfig     `toml:"polygon"`
	Supabase   SupabaseConfig    `toml:"supabase"`
	Redis      RedisConfig       `toml:"redis"`
	S3         S3Config          `toml:"s3"`
	Trigger    TriggerConfig     `toml:"trigger"`
	Book       BookConfig        `toml:"book"`
	Guardrails GuardrailDefaults `toml:"guardrails"`
	Archive    ArchiveConfig     `toml:"archive"`
	Notify     NotifyConfig      `toml:"notify"`
	Leaders    []LeaderConfig    `toml:"leaders"`
	LogLevel   string            `toml:"log_level"`
}

// LeaderConfig identifies one followed wallet.
type LeaderConfig struct {
	ID     string `toml:"id"`
	Wallet string `toml:"wallet"`
	Label  string `toml:"label"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	ClobHost string `toml:"clob_host"`
	DataHost string `toml:"data_host"`
	WsHost   string `toml:"ws_host"`
}

// PolygonConfig holds chain endpoints for the on-chain fill source.
type PolygonConfig struct {
	RPCWsURL        string `toml:"rpc_ws_url"`
	ExchangeAddress string `toml:"exchange_address"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the audit
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TriggerConfig selects which fill sources run and how they poll.
type TriggerConfig struct {
	// Mode is "polling", "onchain", or "both". In "both" mode an unhealthy
	// on-chain source degrades to polling instead of blocking decisions.
	Mode string `toml:"mode"`

	PollInterval duration `toml:"poll_interval"`
	Lookback     duration `toml:"lookback"`

	// MaxConsecutiveFailures flips the polling source unhealthy.
	MaxConsecutiveFailures int `toml:"max_consecutive_failures"`

	// DedupeWindow bounds the coordinator's retained dedupe keys. A duplicate
	// arriving after eviction is treated as new.
	DedupeWindow duration `toml:"dedupe_window"`
}

// BookConfig selects the book store's data paths and staleness thresholds.
type BookConfig struct {
	// Mode is "ws", "ws+rest", "rest", or "none".
	Mode string `toml:"mode"`

	SnapshotInterval duration `toml:"snapshot_interval"`

	FreshThreshold     duration `toml:"fresh_threshold"`
	SoftStaleThreshold duration `toml:"soft_stale_threshold"`
}

// GuardrailDefaults is the global fallback risk policy, overridable per
// leader and side in the database.
type GuardrailDefaults struct {
	SkipMakerTrades      bool    `toml:"skip_maker_trades"`
	MaxUsdcPerEvent      float64 `toml:"max_usdc_per_event"`
	MaxOpenPositions     int     `toml:"max_open_positions"`
	MirrorRatio          float64 `toml:"mirror_ratio"`
	MaxUsdcPerTrade      float64 `toml:"max_usdc_per_trade"`
	MaxUsdcPerDay        float64 `toml:"max_usdc_per_day"`
	SlippageTolerancePct float64 `toml:"slippage_tolerance_pct"`
}

// ArchiveConfig controls the S3 fill-audit archive.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
	// RunAt is the local hour (0-23) at which the previous day is archived.
	RunAt int `toml:"run_at"`
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
		Polymarket: PolymarketConfig{
			ClobHost: "https://clob.polymarket.com",
			DataHost: "https://data-api.polymarket.com",
			WsHost:   "wss://ws-subscriptions-clob.polymarket.com",
		},
		Polygon: PolygonConfig{
			// CTF Exchange on Polygon mainnet.
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copytrader-data",
			ForcePathStyle: true,
		},
		Trigger: TriggerConfig{
			Mode:                   "both",
			PollInterval:           duration{15 * time.Second},
			Lookback:               duration{10 * time.Minute},
			MaxConsecutiveFailures: 3,
			DedupeWindow:           duration{30 * time.Minute},
		},
		Book: BookConfig{
			Mode:               "ws+rest",
			SnapshotInterval:   duration{30 * time.Second},
			FreshThreshold:     duration{30 * time.Second},
			SoftStaleThreshold: duration{2 * time.Minute},
		},
		Guardrails: GuardrailDefaults{
			SkipMakerTrades:      true,
			MaxUsdcPerEvent:      100,
			MaxOpenPositions:     20,
			MirrorRatio:          0.01,
			MaxUsdcPerTrade:      25,
			MaxUsdcPerDay:        250,
			SlippageTolerancePct: 5,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "fills",
			RunAt:   3,
		},
		Notify: NotifyConfig{
			Events: []string{"paper_trade", "source_unhealthy", "error"},
		},
		LogLevel: "info",
	}
}

// validTriggerModes enumerates the accepted values for Trigger.Mode.
var validTriggerModes = map[string]bool{
	"polling": true,
	"onchain": true,
	"both":    true,
}

// validBookModes enumerates the accepted values for Book.Mode.
var validBookModes = map[string]bool{
	"ws":      true,
	"ws+rest": true,
	"rest":    true,
	"none":    true,
}

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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Leaders
	if len(c.Leaders) == 0 {
		errs = append(errs, "leaders: at least one followed wallet must be configured")
	}
	seen := make(map[string]bool, len(c.Leaders))
	for i, l := range c.Leaders {
		if l.ID == "" {
			errs = append(errs, fmt.Sprintf("leaders[%d]: id must not be empty", i))
		}
		if l.Wallet == "" {
			errs = append(errs, fmt.Sprintf("leaders[%d]: wallet must not be empty", i))
		}
		if seen[l.ID] {
			errs = append(errs, fmt.Sprintf("leaders[%d]: duplicate id %q", i, l.ID))
		}
		seen[l.ID] = true
	}

	// Trigger
	mode := strings.ToLower(c.Trigger.Mode)
	if !validTriggerModes[mode] {
		errs = append(errs, fmt.Sprintf("trigger: unknown mode %q (valid: polling, onchain, both)", c.Trigger.Mode))
	}
	if mode != "onchain" {
		if c.Trigger.PollInterval.Duration <= 0 {
			errs = append(errs, "trigger: poll_interval must be > 0")
		}
		if c.Trigger.MaxConsecutiveFailures < 1 {
			errs = append(errs, "trigger: max_consecutive_failures must be >= 1")
		}
	}
	if mode != "polling" {
		if c.Polygon.RPCWsURL == "" {
			errs = append(errs, "polygon: rpc_ws_url is required for trigger mode "+mode)
		}
		if c.Polygon.ExchangeAddress == "" {
			errs = append(errs, "polygon: exchange_address must not be empty")
		}
	}
	if c.Trigger.DedupeWindow.Duration <= 0 {
		errs = append(errs, "trigger: dedupe_window must be > 0")
	}

	// Book
	bookMode := strings.ToLower(c.Book.Mode)
	if !validBookModes[bookMode] {
		errs = append(errs, fmt.Sprintf("book: unknown mode %q (valid: ws, ws+rest, rest, none)", c.Book.Mode))
	}
	if bookMode != "none" {
		if c.Book.FreshThreshold.Duration <= 0 {
			errs = append(errs, "book: fresh_threshold must be > 0")
		}
		if c.Book.SoftStaleThreshold.Duration <= c.Book.FreshThreshold.Duration {
			errs = append(errs, "book: soft_stale_threshold must exceed fresh_threshold")
		}
	}
	if bookMode == "ws+rest" || bookMode == "rest" {
		if c.Book.SnapshotInterval.Duration <= 0 {
			errs = append(errs, "book: snapshot_interval must be > 0 for snapshotting modes")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if mode != "onchain" && c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host is required for the polling source")
	}
	if (bookMode == "ws" || bookMode == "ws+rest") && c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host is required for streaming book modes")
	}

	// Guardrail defaults
	if c.Guardrails.MirrorRatio <= 0 || c.Guardrails.MirrorRatio > 1 {
		errs = append(errs, fmt.Sprintf("guardrails: mirror_ratio must be in (0, 1], got %v", c.Guardrails.MirrorRatio))
	}
	if c.Guardrails.MaxUsdcPerEvent <= 0 {
		errs = append(errs, "guardrails: max_usdc_per_event must be > 0")
	}
	if c.Guardrails.MaxOpenPositions < 1 {
		errs = append(errs, "guardrails: max_open_positions must be >= 1")
	}
	if c.Guardrails.MaxUsdcPerTrade <= 0 {
		errs = append(errs, "guardrails: max_usdc_per_trade must be > 0")
	}
	if c.Guardrails.MaxUsdcPerDay <= 0 {
		errs = append(errs, "guardrails: max_usdc_per_day must be > 0")
	}
	if c.Guardrails.SlippageTolerancePct < 0 {
		errs = append(errs, "guardrails: slippage_tolerance_pct must be >= 0")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when the archive is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RunAt < 0 || c.Archive.RunAt > 23 {
			errs = append(errs, fmt.Sprintf("archive: run_at must be 0-23, got %d", c.Archive.RunAt))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
