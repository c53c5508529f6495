package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so that text comparison orders like time.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string // ":memory:" or empty for an in-memory database.
}

// SQLiteStore keeps telemetry in a single SQLite table. It has no
// partitioning and is meant for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSchema creates the telemetry table and its index.
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		id              TEXT NOT NULL,
		satellite_id    TEXT NOT NULL,
		latitude        REAL,
		longitude       REAL,
		creation_date   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_starlink_satellite_date ON ` + TableName + `(satellite_id, creation_date);
	CREATE INDEX IF NOT EXISTS idx_starlink_date ON ` + TableName + `(creation_date);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertBatch inserts records in a single transaction.
func (s *SQLiteStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+TableName+` (id, satellite_id, latitude, longitude, creation_date)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.ID, r.SatelliteID, nullFloat(r.Latitude), nullFloat(r.Longitude),
			r.CreationDate.UTC().Format(sqliteTimeLayout))
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	return tx.Commit()
}

// ReadPositions runs the filtered read described by f.
func (s *SQLiteStore) ReadPositions(ctx context.Context, f Filter) ([]Row, error) {
	query, args := selectPositions(f, sqliteDialect)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Row
	for rows.Next() {
		var r Row
		var lon, lat sql.NullFloat64
		var ts string

		if err := rows.Scan(&r.SatelliteID, &lon, &lat, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if lon.Valid {
			r.Longitude = &lon.Float64
		}
		if lat.Valid {
			r.Latitude = &lat.Float64
		}
		r.ObservedAt, err = time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse creation_date %q: %w", ts, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+TableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Drop removes the telemetry table.
func (s *SQLiteStore) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+TableName); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
