package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quantfold/etfbot/internal/domain"
)

// EODArchiver uploads the previous UTC day's recorded CSV files to cold
// storage once per day. Files are uploaded as-is; the local copies are kept so
// a failed upload can be retried by hand.
type EODArchiver struct {
	dir    string
	writer domain.BlobWriter
	hour   int
	minute int
	logger *slog.Logger
}

// NewEODArchiver creates an EODArchiver scanning dir. at is the daily upload
// time in UTC, formatted "HH:MM".
func NewEODArchiver(dir string, writer domain.BlobWriter, at string, logger *slog.Logger) (*EODArchiver, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse archive time %q: %w", at, err)
	}
	return &EODArchiver{
		dir:    dir,
		writer: writer,
		hour:   t.Hour(),
		minute: t.Minute(),
		logger: logger,
	}, nil
}

// nextRun returns the next upload instant strictly after now.
func (a *EODArchiver) nextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), a.hour, a.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run fires the daily upload until ctx is cancelled. Each run archives the
// files of the UTC day preceding the run instant.
func (a *EODArchiver) Run(ctx context.Context) error {
	for {
		next := a.nextRun(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		day := next.AddDate(0, 0, -1)
		if err := a.ArchiveDay(ctx, day); err != nil {
			a.logger.Error("end of day archive failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ArchiveDay uploads every recorded CSV file for the given UTC day under
// market-data/<YYYYMMDD>/ in the archive bucket. Per-file failures are logged
// and the remaining files still upload; the first error is returned.
func (a *EODArchiver) ArchiveDay(ctx context.Context, day time.Time) error {
	date := day.UTC().Format("20060102")
	pattern := filepath.Join(a.dir, date+"_market_data_*.csv")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("pipeline: glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		a.logger.Info("no recorded files to archive", slog.String("date", date))
		return nil
	}

	var firstErr error
	uploaded := 0
	for _, path := range matches {
		if err := a.uploadFile(ctx, date, path); err != nil {
			a.logger.Warn("file upload failed",
				slog.String("file", path),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		uploaded++
	}

	a.logger.Info("end of day archive complete",
		slog.String("date", date),
		slog.Int("uploaded", uploaded),
		slog.Int("failed", len(matches)-uploaded),
	)
	return firstErr
}

func (a *EODArchiver) uploadFile(ctx context.Context, date, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer f.Close()

	key := "market-data/" + date + "/" + filepath.Base(path)
	return a.writer.Put(ctx, key, f, "text/csv")
}
