package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/etfbot/internal/domain"
)

func TestLoadFirstRunReturnsDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "trading_state.json"))

	st, err := store.Load(decimal.NewFromInt(25_000))
	require.NoError(t, err)

	assert.True(t, st.Cash.Equal(decimal.NewFromInt(25_000)))
	assert.True(t, st.StartingCapital.Equal(decimal.NewFromInt(25_000)))
	assert.Empty(t, st.PositionSymbol)
	assert.False(t, st.StoppedOut)
	assert.False(t, st.HasOrphan())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "trading_state.json"))

	st := domain.NewTradingState(decimal.NewFromInt(25_000))
	st.Cash = decimal.RequireFromString("12345.67")
	st.CashFragment = decimal.RequireFromString("0.43")
	st.DayStartBalance = decimal.RequireFromString("24000.00")
	st.DayStartDate = "2026-03-02"
	st.BullSymbol = "TQQQ"
	st.BearSymbol = "SQQQ"
	st.IndexSymbol = "QQQ"
	st.OpenPosition("TQQQ", 200, decimal.RequireFromString("61.23"))
	st.EnterStopOut(domain.StopDirectionShort, time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC))
	wl := decimal.RequireFromString("410.00")
	st.WashoutLevel = &wl
	require.NoError(t, st.RecordOrphan("SQQQ", 7, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)))

	require.NoError(t, store.Save(st))

	got, err := store.Load(decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.True(t, got.Cash.Equal(st.Cash))
	assert.True(t, got.CashFragment.Equal(st.CashFragment))
	assert.Equal(t, "TQQQ", got.PositionSymbol)
	assert.Equal(t, int64(200), got.Shares)
	assert.Equal(t, "2026-03-02", got.DayStartDate)

	require.NotNil(t, got.HighWaterMark)
	require.NotNil(t, got.LowWaterMark)
	assert.True(t, got.HighWaterMark.Equal(decimal.RequireFromString("61.23")))

	assert.True(t, got.StoppedOut)
	assert.Equal(t, domain.StopDirectionShort, got.StoppedOutDirection)
	require.NotNil(t, got.StoppedOutAt)
	require.NotNil(t, got.WashoutLevel)

	require.True(t, got.HasOrphan())
	assert.Equal(t, "SQQQ", got.OrphanedShares.Symbol)
	assert.Equal(t, int64(7), got.OrphanedShares.Shares)

	assert.NotEmpty(t, got.CheckpointID)
	assert.False(t, got.SavedAt.IsZero())
}

func TestLoadTolerantOfMissingFields(t *testing.T) {
	// A file written before the trailing-stop fields existed.
	path := filepath.Join(t.TempDir(), "trading_state.json")
	old := `{"cash":"9000.50","positionSymbol":"SQQQ","shares":40,"startingCapital":"10000"}`
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	st, err := NewStore(path).Load(decimal.NewFromInt(25_000))
	require.NoError(t, err)

	assert.True(t, st.Cash.Equal(decimal.RequireFromString("9000.50")))
	assert.Equal(t, "SQQQ", st.PositionSymbol)
	assert.Equal(t, int64(40), st.Shares)

	// Newer fields default to absent rather than failing the load.
	assert.Nil(t, st.HighWaterMark)
	assert.Nil(t, st.TrailingStop)
	assert.False(t, st.StoppedOut)
	assert.False(t, st.HasOrphan())
	assert.Empty(t, st.CheckpointID)
}

func TestLoadUnparsableFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	_, err := NewStore(path).Load(decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestSaveIsAtomicAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "trading_state.json"))

	st := domain.NewTradingState(decimal.NewFromInt(25_000))
	require.NoError(t, store.Save(st))
	firstID := st.CheckpointID

	st.Cash = decimal.NewFromInt(24_000)
	require.NoError(t, store.Save(st))
	assert.NotEqual(t, firstID, st.CheckpointID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trading_state.json", entries[0].Name())

	// The file on disk is valid JSON after every save.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "trading_state.json")
	store := NewStore(path)

	require.NoError(t, store.Save(domain.NewTradingState(decimal.NewFromInt(1))))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
