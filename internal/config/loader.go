package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "COPYTRADER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "COPYTRADER_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COPYTRADER_POLYMARKET_WS_HOST")

	// ── Polygon ──
	setStr(&cfg.Polygon.RPCWsURL, "COPYTRADER_POLYGON_RPC_WS_URL")
	setStr(&cfg.Polygon.ExchangeAddress, "COPYTRADER_POLYGON_EXCHANGE_ADDRESS")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "COPYTRADER_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "COPYTRADER_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "COPYTRADER_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "COPYTRADER_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "COPYTRADER_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "COPYTRADER_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "COPYTRADER_SUPABASE_SSLMODE")
	setInt(&cfg.Supabase.PoolMaxConns, "COPYTRADER_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "COPYTRADER_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "COPYTRADER_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPYTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYTRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPYTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYTRADER_S3_FORCE_PATH_STYLE")

	// ── Trigger ──
	setStr(&cfg.Trigger.Mode, "COPYTRADER_TRIGGER_MODE")
	setDuration(&cfg.Trigger.PollInterval, "COPYTRADER_TRIGGER_POLL_INTERVAL")
	setDuration(&cfg.Trigger.Lookback, "COPYTRADER_TRIGGER_LOOKBACK")
	setInt(&cfg.Trigger.MaxConsecutiveFailures, "COPYTRADER_TRIGGER_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Trigger.DedupeWindow, "COPYTRADER_TRIGGER_DEDUPE_WINDOW")

	// ── Book ──
	setStr(&cfg.Book.Mode, "COPYTRADER_BOOK_MODE")
	setDuration(&cfg.Book.SnapshotInterval, "COPYTRADER_BOOK_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Book.FreshThreshold, "COPYTRADER_BOOK_FRESH_THRESHOLD")
	setDuration(&cfg.Book.SoftStaleThreshold, "COPYTRADER_BOOK_SOFT_STALE_THRESHOLD")

	// ── Guardrails ──
	setBool(&cfg.Guardrails.SkipMakerTrades, "COPYTRADER_GUARDRAILS_SKIP_MAKER_TRADES")
	setFloat64(&cfg.Guardrails.MaxUsdcPerEvent, "COPYTRADER_GUARDRAILS_MAX_USDC_PER_EVENT")
	setInt(&cfg.Guardrails.MaxOpenPositions, "COPYTRADER_GUARDRAILS_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Guardrails.MirrorRatio, "COPYTRADER_GUARDRAILS_MIRROR_RATIO")
	setFloat64(&cfg.Guardrails.MaxUsdcPerTrade, "COPYTRADER_GUARDRAILS_MAX_USDC_PER_TRADE")
	setFloat64(&cfg.Guardrails.MaxUsdcPerDay, "COPYTRADER_GUARDRAILS_MAX_USDC_PER_DAY")
	setFloat64(&cfg.Guardrails.SlippageTolerancePct, "COPYTRADER_GUARDRAILS_SLIPPAGE_TOLERANCE_PCT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPYTRADER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "COPYTRADER_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.RunAt, "COPYTRADER_ARCHIVE_RUN_AT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "COPYTRADER_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
