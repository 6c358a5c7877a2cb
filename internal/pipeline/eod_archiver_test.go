package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobWriter struct {
	mu       sync.Mutex
	objects  map[string]string
	failKeys map[string]bool
}

func newFakeBlobWriter() *fakeBlobWriter {
	return &fakeBlobWriter{
		objects:  make(map[string]string),
		failKeys: make(map[string]bool),
	}
}

func (f *fakeBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[path] {
		return errors.New("upload rejected")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = string(body)
	return nil
}

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestEODArchiverUploadsPreviousDayFiles(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "20260302_market_data_TQQQ.csv", "header\nrow1\n")
	writeCSV(t, dir, "20260302_market_data_BTC-USD.csv", "header\nrow2\n")
	writeCSV(t, dir, "20260303_market_data_TQQQ.csv", "header\ntoday\n")

	writer := newFakeBlobWriter()
	archiver, err := NewEODArchiver(dir, writer, "00:30", testLogger())
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, archiver.ArchiveDay(context.Background(), day))

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.objects, 2)
	assert.Equal(t, "header\nrow1\n", writer.objects["market-data/20260302/20260302_market_data_TQQQ.csv"])
	assert.Equal(t, "header\nrow2\n", writer.objects["market-data/20260302/20260302_market_data_BTC-USD.csv"])
}

func TestEODArchiverNoFilesIsNotAnError(t *testing.T) {
	writer := newFakeBlobWriter()
	archiver, err := NewEODArchiver(t.TempDir(), writer, "00:30", testLogger())
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, archiver.ArchiveDay(context.Background(), day))
	assert.Empty(t, writer.objects)
}

func TestEODArchiverContinuesPastFailedUpload(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "20260302_market_data_QQQ.csv", "a\n")
	writeCSV(t, dir, "20260302_market_data_TQQQ.csv", "b\n")

	writer := newFakeBlobWriter()
	writer.failKeys["market-data/20260302/20260302_market_data_QQQ.csv"] = true

	archiver, err := NewEODArchiver(dir, writer, "00:30", testLogger())
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	err = archiver.ArchiveDay(context.Background(), day)
	require.Error(t, err)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Contains(t, writer.objects, "market-data/20260302/20260302_market_data_TQQQ.csv")
}

func TestEODArchiverRejectsBadTime(t *testing.T) {
	_, err := NewEODArchiver(t.TempDir(), newFakeBlobWriter(), "25:99", testLogger())
	require.Error(t, err)
}

func TestEODArchiverNextRun(t *testing.T) {
	archiver, err := NewEODArchiver(t.TempDir(), newFakeBlobWriter(), "00:30", testLogger())
	require.NoError(t, err)

	before := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC), archiver.nextRun(before))

	after := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC), archiver.nextRun(after))

	exactly := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC), archiver.nextRun(exactly))
}
