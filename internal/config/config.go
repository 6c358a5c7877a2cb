// Package config defines the top-level configuration for etfbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ETFBOT_* environment variables.
type Config struct {
	Alpaca   AlpacaConfig   `toml:"alpaca"`
	Symbols  SymbolsConfig  `toml:"symbols"`
	Data     DataConfig     `toml:"data"`
	Trading  TradingConfig  `toml:"trading"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AlpacaConfig holds market-data stream endpoints and credentials. The equity
// stream is the primary feed and is required; the crypto stream is optional.
type AlpacaConfig struct {
	KeyID       string `toml:"key_id"`
	SecretKey   string `toml:"secret_key"`
	EquityWsURL string `toml:"equity_ws_url"`
	CryptoWsURL string `toml:"crypto_ws_url"`
}

// SymbolsConfig names the instruments the bot watches. Index is subscribed as
// a benchmark; bull/bear are the tradable leveraged pair. Crypto symbols
// (containing "/") route to the secondary feed.
type SymbolsConfig struct {
	Bull   string   `toml:"bull"`
	Bear   string   `toml:"bear"`
	Index  string   `toml:"index"`
	Crypto []string `toml:"crypto"`
}

// DataConfig controls the on-disk tick recorder.
type DataConfig struct {
	Dir           string   `toml:"dir"`
	Source        string   `toml:"source"`
	FlushInterval duration `toml:"flush_interval"`
}

// TradingConfig holds the persistent trading-state parameters.
type TradingConfig struct {
	StatePath       string  `toml:"state_path"`
	StartingCapital float64 `toml:"starting_capital"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the optional tick
// archive.
type DatabaseConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
}

// RedisConfig holds Redis connection parameters for the optional latest-price
// cache.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	PublishInterval duration `toml:"publish_interval"`
	PriceTTL        duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters for end-of-day CSV
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveTimeUTC string `toml:"archive_time_utc"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		Alpaca: AlpacaConfig{
			EquityWsURL: "wss://stream.data.alpaca.markets/v2/iex",
			CryptoWsURL: "wss://stream.data.alpaca.markets/v1beta3/crypto/us",
		},
		Symbols: SymbolsConfig{
			Bull:   "TQQQ",
			Bear:   "SQQQ",
			Index:  "QQQ",
			Crypto: []string{},
		},
		Data: DataConfig{
			Dir:           "data",
			Source:        "alpaca",
			FlushInterval: duration{30 * time.Second},
		},
		Trading: TradingConfig{
			StatePath:       "data/trading_state.json",
			StartingCapital: 25_000,
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "etfbot",
			User:          "etfbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			BatchSize:     500,
			FlushInterval: duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:         false,
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			PublishInterval: duration{250 * time.Millisecond},
			PriceTTL:        duration{24 * time.Hour},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "etfbot-data",
			ForcePathStyle: true,
			ArchiveTimeUTC: "00:30",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9100,
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":   true,
	"record": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, record)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Alpaca — the primary stream cannot run without credentials.
	if c.Alpaca.KeyID == "" || c.Alpaca.SecretKey == "" {
		errs = append(errs, "alpaca: key_id and secret_key must both be set")
	}
	if c.Alpaca.EquityWsURL == "" {
		errs = append(errs, "alpaca: equity_ws_url must not be empty")
	}

	// Symbols
	if c.Symbols.Index == "" {
		errs = append(errs, "symbols: index must not be empty")
	}
	for _, s := range c.Symbols.Crypto {
		if !strings.Contains(s, "/") {
			errs = append(errs, fmt.Sprintf("symbols: crypto symbol %q must be a currency pair (e.g. BTC/USD)", s))
		}
	}

	// Data
	if c.Data.Dir == "" {
		errs = append(errs, "data: dir must not be empty")
	}
	if c.Data.Source == "" {
		errs = append(errs, "data: source must not be empty")
	}

	// Trading
	if c.Mode == "live" {
		if c.Trading.StatePath == "" {
			errs = append(errs, "trading: state_path must not be empty in live mode")
		}
		if c.Trading.StartingCapital <= 0 {
			errs = append(errs, "trading: starting_capital must be > 0")
		}
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Database.BatchSize < 1 {
			errs = append(errs, "database: batch_size must be >= 1")
		}
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if _, err := time.Parse("15:04", c.S3.ArchiveTimeUTC); err != nil {
			errs = append(errs, fmt.Sprintf("s3: archive_time_utc %q must be HH:MM", c.S3.ArchiveTimeUTC))
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
