// Package storage persists satellite telemetry in a time-partitioned store and
// serves the filtered position reads used by the query engine.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Supported backends.
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendSQLite     = "sqlite"
)

// Config holds connection settings for every supported backend.
type Config struct {
	Backend    string
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	SQLite     SQLiteConfig
}

// DefaultConfig returns a configuration with default local development settings.
func DefaultConfig() Config {
	return Config{
		Backend: BackendPostgres,
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "postgres",
			User:     "postgres",
			Password: "postgres",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "default",
			User:     "default",
			Password: "",
		},
		SQLite: SQLiteConfig{
			Path: "starlink.db",
		},
	}
}

// PositionReader runs a filtered position read.
type PositionReader interface {
	ReadPositions(ctx context.Context, f Filter) ([]Row, error)
}

// Store is the full set of operations a telemetry backend provides.
type Store interface {
	PositionReader

	// CreateSchema creates the telemetry table and its partitioning.
	CreateSchema(ctx context.Context) error
	// InsertBatch bulk-inserts records.
	InsertBatch(ctx context.Context, records []Record) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	// Drop removes the telemetry table and everything in it.
	Drop(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendPostgres, "":
		s, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	case BackendClickHouse:
		s, err := OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		return s, nil
	case BackendSQLite:
		s, err := OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
