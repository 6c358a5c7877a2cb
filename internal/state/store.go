// Package state persists the bot's crash-recoverable trading state. The
// on-disk format is JSON with additive schema evolution: a file written by an
// older build loads cleanly, with newer fields defaulting to absent. Saves
// are atomic with respect to process crash.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/metrics"
)

// Store reads and writes the trading-state file at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the trading state from disk. On the very first run — no file yet
// — it returns a fresh default state seeded with startingCapital. Fields the
// file does not contain (older schema) default to zero/absent rather than
// failing the load, so adding a field never breaks recovery of state written
// before that field existed.
func (s *Store) Load(startingCapital decimal.Decimal) (*domain.TradingState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NewTradingState(startingCapital), nil
		}
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var st domain.TradingState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	return &st, nil
}

// Save checkpoints the state atomically: the JSON is written to a temp file
// in the same directory, synced, and renamed over the target. A crash during
// Save never leaves a file that is present but unparsable. Each checkpoint is
// stamped with a fresh id and timestamp for audit.
func (s *Store) Save(st *domain.TradingState) error {
	st.SavedAt = time.Now().UTC()
	st.CheckpointID = uuid.NewString()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("state: create dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".trading_state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("state: close temp: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("state: replace %s: %w", s.path, err)
	}

	metrics.StateCheckpoints.Inc()
	return nil
}
