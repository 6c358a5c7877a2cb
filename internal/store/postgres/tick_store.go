package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/etfbot/internal/domain"
)

// TickStore implements domain.TickStore using PostgreSQL.
type TickStore struct {
	pool   *pgxpool.Pool
	source string
}

// NewTickStore creates a TickStore backed by the given connection pool.
// source tags every inserted row with the originating feed.
func NewTickStore(pool *pgxpool.Pool, source string) *TickStore {
	return &TickStore{pool: pool, source: source}
}

const tickSelectCols = `symbol, price, is_benchmark, ts`

func scanTickRows(rows pgx.Rows) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for rows.Next() {
		var t domain.Tick
		if err := rows.Scan(&t.Symbol, &t.Price, &t.IsBenchmark, &t.TimestampUTC); err != nil {
			return nil, err
		}
		t.TimestampUTC = t.TimestampUTC.UTC()
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// InsertBatch inserts multiple ticks efficiently using pgx Batch. Duplicates
// (same symbol, timestamp, and price) are silently skipped via ON CONFLICT DO
// NOTHING — redelivery after a reconnect must not double-count.
func (s *TickStore) InsertBatch(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO ticks (symbol, price, is_benchmark, ts, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, ts, price) DO NOTHING`

	for _, t := range ticks {
		batch.Queue(query, t.Symbol, t.Price, t.IsBenchmark, t.TimestampUTC.UTC(), s.source)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ticks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert tick batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetLastTimestamp returns the most recent archived tick timestamp, or the
// zero time if the archive is empty.
func (s *TickStore) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, "SELECT MAX(ts) FROM ticks").Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: get last tick timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}

// ListBySymbol returns archived ticks for a symbol in ascending time order,
// with optional time filtering and a limit.
func (s *TickStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Tick, error) {
	query := `SELECT ` + tickSelectCols + ` FROM ticks WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks by symbol: %w", err)
	}
	defer rows.Close()

	ticks, err := scanTickRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ticks by symbol: %w", err)
	}
	return ticks, nil
}

// Compile-time interface check.
var _ domain.TickStore = (*TickStore)(nil)
