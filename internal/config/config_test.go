package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Alpaca.KeyID = "PKTEST"
	cfg.Alpaca.SecretKey = "secret"
	return cfg
}

func TestDefaultsValidateWithCredentials(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_id")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.LogLevel = "verbose"
	cfg.Data.Dir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "data: dir")
}

func TestValidateCryptoSymbolShape(t *testing.T) {
	cfg := validConfig()
	cfg.Symbols.Crypto = []string{"BTCUSD"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency pair")

	cfg.Symbols.Crypto = []string{"BTC/USD", "ETH/USD"}
	require.NoError(t, cfg.Validate())
}

func TestValidateEnabledSections(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Enabled = true
	cfg.Database.Host = ""
	cfg.Database.DSN = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database: host")

	// A DSN replaces the discrete host fields.
	cfg.Database.DSN = "postgres://etfbot:pw@db:5432/etfbot"
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveTime(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Enabled = true
	cfg.S3.ArchiveTimeUTC = "24:61"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive_time_utc")
}

func TestValidateRecordModeSkipsTradingChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "record"
	cfg.Trading.StatePath = ""
	cfg.Trading.StartingCapital = 0

	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "record"
log_level = "debug"

[alpaca]
key_id = "PKFILE"
secret_key = "filesecret"

[symbols]
bull = "UPRO"
bear = "SPXU"
index = "SPY"

[data]
flush_interval = "10s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "record", cfg.Mode)
	assert.Equal(t, "PKFILE", cfg.Alpaca.KeyID)
	assert.Equal(t, "UPRO", cfg.Symbols.Bull)
	assert.Equal(t, "SPY", cfg.Symbols.Index)
	assert.Equal(t, 10*time.Second, cfg.Data.FlushInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "wss://stream.data.alpaca.markets/v2/iex", cfg.Alpaca.EquityWsURL)
	assert.Equal(t, "data", cfg.Data.Dir)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "live"`), 0o644))

	t.Setenv("ETFBOT_ALPACA_KEY_ID", "PKENV")
	t.Setenv("ETFBOT_MODE", "record")
	t.Setenv("ETFBOT_SYMBOLS_CRYPTO", "BTC/USD, ETH/USD")
	t.Setenv("ETFBOT_DATABASE_ENABLED", "true")
	t.Setenv("ETFBOT_DATA_FLUSH_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "PKENV", cfg.Alpaca.KeyID)
	assert.Equal(t, "record", cfg.Mode)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, cfg.Symbols.Crypto)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Data.FlushInterval.Duration)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestDurationTextRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
