package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"starlink_history/internal/metrics"
	"starlink_history/internal/storage"
)

// DefaultBatchSize is the number of records inserted per batch.
const DefaultBatchSize = 1000

// Source provides the raw telemetry document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Inserter is the write side of a store.
type Inserter interface {
	InsertBatch(ctx context.Context, records []storage.Record) error
}

// Loader fetches, decodes and inserts the telemetry document.
type Loader struct {
	source    Source
	store     Inserter
	batchSize int
	logger    *slog.Logger
}

// NewLoader creates a Loader. batchSize <= 0 uses DefaultBatchSize and a nil
// logger uses slog.Default().
func NewLoader(source Source, store Inserter, batchSize int, logger *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{source: source, store: store, batchSize: batchSize, logger: logger}
}

// Load runs one full load and returns the number of records inserted. On
// error, batches inserted before the failure stay in the store.
func (l *Loader) Load(ctx context.Context) (int, error) {
	data, err := l.source.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	records, skipped, err := Decode(data)
	if err != nil {
		return 0, err
	}
	for _, serr := range skipped {
		l.logger.WarnContext(ctx, "skipping telemetry record", "error", serr)
	}
	l.logger.InfoContext(ctx, "decoded telemetry document",
		"records", len(records),
		"skipped", len(skipped),
		"bytes", len(data))

	inserted := 0
	for start := 0; start < len(records); start += l.batchSize {
		end := min(start+l.batchSize, len(records))
		if err := l.store.InsertBatch(ctx, records[start:end]); err != nil {
			return inserted, fmt.Errorf("insert batch at %d: %w", start, err)
		}
		inserted += end - start
		metrics.AddIngested(end - start)
	}

	l.logger.InfoContext(ctx, "telemetry load complete", "inserted", inserted)
	return inserted, nil
}
