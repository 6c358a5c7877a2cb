package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/feed"
)

type fakeTickStore struct {
	mu      sync.Mutex
	batches [][]domain.Tick
	failN   int
}

func (f *fakeTickStore) InsertBatch(ctx context.Context, ticks []domain.Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("database unavailable")
	}
	f.batches = append(f.batches, append([]domain.Tick(nil), ticks...))
	return nil
}

func (f *fakeTickStore) GetLastTimestamp(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeTickStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Tick, error) {
	return nil, nil
}

func (f *fakeTickStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func archTick(symbol string, price int64) domain.Tick {
	return domain.Tick{
		Symbol:       symbol,
		Price:        decimal.NewFromInt(price),
		TimestampUTC: time.Now().UTC(),
	}
}

func TestTickArchiverFlushesOnQueueClose(t *testing.T) {
	q := feed.NewQueue("archive")
	store := &fakeTickStore{}
	archiver := NewTickArchiver(q, store, 100, time.Minute, testLogger())

	for i := int64(0); i < 10; i++ {
		q.Publish(archTick("QQQ", 500+i))
	}
	q.Close()

	require.NoError(t, archiver.Run(context.Background()))
	assert.Equal(t, 10, store.total())
}

func TestTickArchiverBatchSizeTriggersFlush(t *testing.T) {
	q := feed.NewQueue("archive")
	store := &fakeTickStore{}
	archiver := NewTickArchiver(q, store, 5, time.Hour, testLogger())

	for i := int64(0); i < 12; i++ {
		q.Publish(archTick("TQQQ", 60+i))
	}
	q.Close()

	require.NoError(t, archiver.Run(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	// Two full batches of five plus the remainder on close.
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 5)
	assert.Len(t, store.batches[1], 5)
	assert.Len(t, store.batches[2], 2)
}

func TestTickArchiverDropsFailedBatch(t *testing.T) {
	q := feed.NewQueue("archive")
	store := &fakeTickStore{failN: 1}
	archiver := NewTickArchiver(q, store, 5, time.Hour, testLogger())

	for i := int64(0); i < 10; i++ {
		q.Publish(archTick("SQQQ", 19))
	}
	q.Close()

	require.NoError(t, archiver.Run(context.Background()))
	// The first batch of five was dropped; the second landed.
	assert.Equal(t, 5, store.total())
}

func TestTickArchiverDrainsOnCancel(t *testing.T) {
	q := feed.NewQueue("archive")
	store := &fakeTickStore{}
	archiver := NewTickArchiver(q, store, 1000, time.Hour, testLogger())

	for i := int64(0); i < 50; i++ {
		q.Publish(archTick("QQQ", 500))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- archiver.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("archiver did not stop")
	}

	assert.Equal(t, 50, store.total())
}
