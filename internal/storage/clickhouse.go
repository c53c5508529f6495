package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseStore keeps telemetry in a MergeTree table partitioned by month.
type ClickHouseStore struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// CreateSchema creates the telemetry table.
func (s *ClickHouseStore) CreateSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+TableName+` (
		id              String,
		satellite_id    String,
		latitude        Nullable(Float64),
		longitude       Nullable(Float64),
		creation_date   DateTime64(3, 'UTC')
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(creation_date)
	ORDER BY (satellite_id, creation_date)`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertBatch stores records using a single native batch.
func (s *ClickHouseStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO `+TableName+` (id, satellite_id, latitude, longitude, creation_date)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		if err := batch.Append(r.ID, r.SatelliteID, r.Latitude, r.Longitude, r.CreationDate.UTC()); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ReadPositions runs the filtered read described by f.
func (s *ClickHouseStore) ReadPositions(ctx context.Context, f Filter) ([]Row, error) {
	query, args := selectPositions(f, questionDialect)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *ClickHouseStore) Count(ctx context.Context) (int64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM `+TableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int64(n), nil
}

// Drop removes the telemetry table.
func (s *ClickHouseStore) Drop(ctx context.Context) error {
	if err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS `+TableName); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	return nil
}
