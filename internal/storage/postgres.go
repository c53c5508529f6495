package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ConnString returns the connection URL for cfg.
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// PostgresStore keeps telemetry in a PostgreSQL table, turned into a
// TimescaleDB hypertable when the extension is available.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	return OpenPostgresURL(ctx, cfg.ConnString())
}

// OpenPostgresURL opens a connection pool from a connection URL.
func OpenPostgresURL(ctx context.Context, connStr string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateSchema creates the telemetry table and, when TimescaleDB is
// installed, converts it to a hypertable partitioned on creation_date.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		id              TEXT NOT NULL,
		satellite_id    TEXT NOT NULL,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		creation_date   TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_starlink_satellite_date ON ` + TableName + `(satellite_id, creation_date DESC);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Plain PostgreSQL works without the extension, just unpartitioned.
	// Whether it is installed is checked below.
	_, _ = s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS timescaledb`)

	installed, err := s.timescaleInstalled(ctx)
	if err != nil {
		return err
	}
	if !installed {
		return nil
	}

	if _, err := s.pool.Exec(ctx, `SELECT create_hypertable('`+TableName+`', 'creation_date', if_not_exists => TRUE, migrate_data => TRUE)`); err != nil {
		return fmt.Errorf("create hypertable: %w", err)
	}
	return nil
}

func (s *PostgresStore) timescaleInstalled(ctx context.Context) (bool, error) {
	var installed bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&installed)
	if err != nil {
		return false, fmt.Errorf("check timescaledb extension: %w", err)
	}
	return installed, nil
}

// InsertBatch copies records into the telemetry table.
func (s *PostgresStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	columns := []string{"id", "satellite_id", "latitude", "longitude", "creation_date"}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{TableName}, columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.ID, r.SatelliteID, r.Latitude, r.Longitude, r.CreationDate.UTC()}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	return nil
}

// ReadPositions runs the filtered read described by f.
func (s *PostgresStore) ReadPositions(ctx context.Context, f Filter) ([]Row, error) {
	query, args := selectPositions(f, dollarDialect)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.SatelliteID, &r.Longitude, &r.Latitude, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+TableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Drop removes the telemetry table.
func (s *PostgresStore) Drop(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+TableName); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	return nil
}
