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
// built-in defaults, applies ETFBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ETFBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Alpaca ──
	setStr(&cfg.Alpaca.KeyID, "ETFBOT_ALPACA_KEY_ID")
	setStr(&cfg.Alpaca.SecretKey, "ETFBOT_ALPACA_SECRET_KEY")
	setStr(&cfg.Alpaca.EquityWsURL, "ETFBOT_ALPACA_EQUITY_WS_URL")
	setStr(&cfg.Alpaca.CryptoWsURL, "ETFBOT_ALPACA_CRYPTO_WS_URL")

	// ── Symbols ──
	setStr(&cfg.Symbols.Bull, "ETFBOT_SYMBOLS_BULL")
	setStr(&cfg.Symbols.Bear, "ETFBOT_SYMBOLS_BEAR")
	setStr(&cfg.Symbols.Index, "ETFBOT_SYMBOLS_INDEX")
	setStringSlice(&cfg.Symbols.Crypto, "ETFBOT_SYMBOLS_CRYPTO")

	// ── Data ──
	setStr(&cfg.Data.Dir, "ETFBOT_DATA_DIR")
	setStr(&cfg.Data.Source, "ETFBOT_DATA_SOURCE")
	setDuration(&cfg.Data.FlushInterval, "ETFBOT_DATA_FLUSH_INTERVAL")

	// ── Trading ──
	setStr(&cfg.Trading.StatePath, "ETFBOT_TRADING_STATE_PATH")
	setFloat64(&cfg.Trading.StartingCapital, "ETFBOT_TRADING_STARTING_CAPITAL")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "ETFBOT_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "ETFBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "ETFBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ETFBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ETFBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "ETFBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "ETFBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ETFBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "ETFBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ETFBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ETFBOT_DATABASE_RUN_MIGRATIONS")
	setInt(&cfg.Database.BatchSize, "ETFBOT_DATABASE_BATCH_SIZE")
	setDuration(&cfg.Database.FlushInterval, "ETFBOT_DATABASE_FLUSH_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ETFBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ETFBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ETFBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ETFBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ETFBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ETFBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ETFBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PublishInterval, "ETFBOT_REDIS_PUBLISH_INTERVAL")
	setDuration(&cfg.Redis.PriceTTL, "ETFBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ETFBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ETFBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ETFBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ETFBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ETFBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ETFBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ETFBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ETFBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ArchiveTimeUTC, "ETFBOT_S3_ARCHIVE_TIME_UTC")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "ETFBOT_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "ETFBOT_METRICS_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "ETFBOT_MODE")
	setStr(&cfg.LogLevel, "ETFBOT_LOG_LEVEL")
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
