// Package metrics registers the Prometheus collectors the data plane updates
// during operation:
//   - etfbot_queue_depth{queue}          – current backlog per tick queue (gauge)
//   - etfbot_ticks_ingested_total{feed}  – ticks accepted from each feed
//   - etfbot_ticks_recorded_total        – rows appended to CSV files
//   - etfbot_record_errors_total         – single-tick write failures (skipped)
//   - etfbot_archive_batches_total       – batches inserted into the DB archive
//   - etfbot_state_checkpoints_total     – trading-state saves
//
// The orchestrator alarms on sustained etfbot_queue_depth growth; the queue
// itself never blocks producers.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "etfbot_queue_depth",
			Help: "Current number of buffered ticks per queue",
		},
		[]string{"queue"},
	)

	TicksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etfbot_ticks_ingested_total",
			Help: "Ticks accepted from each feed",
		},
		[]string{"feed"},
	)

	TicksRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "etfbot_ticks_recorded_total",
			Help: "Tick rows appended to CSV files",
		},
	)

	RecordErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "etfbot_record_errors_total",
			Help: "Single-tick write failures that were skipped",
		},
	)

	ArchiveBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "etfbot_archive_batches_total",
			Help: "Tick batches inserted into the database archive",
		},
	)

	StateCheckpoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "etfbot_state_checkpoints_total",
			Help: "Trading-state checkpoints written to disk",
		},
	)
)

// Serve exposes /metrics on the given port until the context is cancelled.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
