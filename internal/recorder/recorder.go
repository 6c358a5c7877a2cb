// Package recorder drains the tick queue and appends every tick to per-day,
// per-symbol CSV files. It is the queue's single consumer and never applies
// back-pressure to the producers; durability failures are absorbed per tick.
package recorder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/feed"
	"github.com/quantfold/etfbot/internal/metrics"
)

// header is written exactly once at the top of every new file. The format is
// stable for downstream tooling; do not change it.
const header = "TimestampUTC,Symbol,Price,Volume,Source\n"

// State is the recorder lifecycle: Stopped → Running → Draining → Stopped.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// openFile is one appendable day/symbol CSV file.
type openFile struct {
	f *os.File
	w *bufio.Writer
}

// Recorder appends ticks to disk asynchronously. Exactly one goroutine runs
// the consume loop; FlushAll may be invoked from any other goroutine, so the
// file-handle map is guarded by one lock shared between the two.
type Recorder struct {
	dir    string
	source string
	queue  *feed.Queue
	logger *slog.Logger

	mu       sync.Mutex
	files    map[string]*openFile
	lastDate string

	state atomic.Int32
}

// New creates a Recorder writing under dir, tagging every row with source,
// and consuming from queue. The directory is created if missing.
func New(dir, source string, queue *feed.Queue, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create data dir: %w", err)
	}
	return &Recorder{
		dir:    dir,
		source: source,
		queue:  queue,
		logger: logger.With(slog.String("component", "recorder")),
		files:  make(map[string]*openFile),
	}, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	return State(r.state.Load())
}

// Run consumes the queue until the context is cancelled or the queue is
// closed, then drains every buffered tick, flushes, and closes all handles.
// No buffered tick is lost on a clean shutdown. Run returns the context's
// error so errgroup callers observe cancellation.
func (r *Recorder) Run(ctx context.Context) error {
	r.state.Store(int32(StateRunning))
	r.logger.Info("recorder started", slog.String("dir", r.dir))

	for {
		tick, ok := r.queue.Dequeue(ctx)
		if !ok {
			break
		}
		r.record(tick)
	}

	r.state.Store(int32(StateDraining))
	r.logger.Info("recorder draining", slog.Int("backlog", r.queue.Depth()))

	for {
		tick, ok := r.queue.TryDequeue()
		if !ok {
			break
		}
		r.record(tick)
	}

	r.closeAll()
	r.state.Store(int32(StateStopped))
	r.logger.Info("recorder stopped")

	return ctx.Err()
}

// FlushAll forces buffered rows to disk. It is safe to call from any
// goroutine (e.g. a periodic checkpoint) and does not wait for rollover or
// shutdown.
func (r *Recorder) FlushAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, of := range r.files {
		if err := of.w.Flush(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("recorder: flush %s: %w", key, err)
			}
			continue
		}
		if err := of.f.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("recorder: sync %s: %w", key, err)
		}
	}
	return firstErr
}

// record appends one tick. A failure affects only this tick: it is logged,
// counted, and skipped — the consumption loop never stops.
func (r *Recorder) record(t domain.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	date := t.TimestampUTC.UTC().Format("20060102")

	// Date rollover: flush and close every open handle before any file for
	// the new date is opened, so each day's data is complete on disk before
	// the next day begins.
	if r.lastDate != "" && date != r.lastDate {
		r.logger.Info("date rollover, closing files",
			slog.String("from", r.lastDate),
			slog.String("to", date),
		)
		r.closeAllLocked()
	}
	r.lastDate = date

	symbol := sanitizeSymbol(t.Symbol)
	of, ok := r.files[symbol]
	if !ok {
		opened, err := r.open(date, symbol)
		if err != nil {
			metrics.RecordErrors.Inc()
			r.logger.Error("open tick file failed, tick skipped",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		of = opened
		r.files[symbol] = of
	}

	_, err := fmt.Fprintf(of.w, "%s,%s,%s,0,%s\n",
		t.TimestampUTC.UTC().Format(time.RFC3339Nano),
		t.Symbol,
		t.Price.String(),
		r.source,
	)
	if err != nil {
		metrics.RecordErrors.Inc()
		r.logger.Error("write tick failed, tick skipped",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.TicksRecorded.Inc()
}

// open creates or reopens the file for one (date, symbol) key, writing the
// header only when the file is new.
func (r *Recorder) open(date, symbol string) (*openFile, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("%s_market_data_%s.csv", date, symbol))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := bufio.NewWriter(f)
	if info.Size() == 0 {
		if _, err := w.WriteString(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return &openFile{f: f, w: w}, nil
}

// closeAll flushes and closes every open handle.
func (r *Recorder) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeAllLocked()
}

// closeAllLocked is closeAll with r.mu already held.
func (r *Recorder) closeAllLocked() {
	for key, of := range r.files {
		if err := of.w.Flush(); err != nil {
			r.logger.Error("flush on close failed",
				slog.String("file", key),
				slog.String("error", err.Error()),
			)
		}
		if err := of.f.Close(); err != nil {
			r.logger.Error("close failed",
				slog.String("file", key),
				slog.String("error", err.Error()),
			)
		}
	}
	r.files = make(map[string]*openFile)
}

// sanitizeSymbol replaces path-separator characters so currency pairs like
// BTC/USD map to stable file names.
func sanitizeSymbol(symbol string) string {
	symbol = strings.ReplaceAll(symbol, "/", "-")
	symbol = strings.ReplaceAll(symbol, string(filepath.Separator), "-")
	return symbol
}
