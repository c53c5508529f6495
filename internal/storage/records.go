package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TableName is the telemetry table shared by all backends.
const TableName = "starlink_historical_data"

// Record is one telemetry observation as written by the ingestion pipeline.
type Record struct {
	ID           string
	SatelliteID  string
	Latitude     *float64 // nil when the position was not recorded.
	Longitude    *float64
	CreationDate time.Time
}

// Row is one result of a position read.
type Row struct {
	SatelliteID string
	Longitude   *float64
	Latitude    *float64
	ObservedAt  time.Time
}

// Order selects the sort order of a position read. The zero value leaves
// the order to the backend.
type Order int

const (
	// OrderObservedDesc sorts newest first.
	OrderObservedDesc Order = iota + 1
	// OrderObservedAsc sorts oldest first, then by satellite id.
	OrderObservedAsc
)

// Filter describes a position read. All set conditions are combined with AND.
type Filter struct {
	SatelliteID     string     // Exact match when non-empty.
	RequirePosition bool       // Exclude rows with a null latitude or longitude.
	After           *time.Time // creation_date > After.
	Before          *time.Time // creation_date < Before.
	Order           Order
	Limit           int // No limit when <= 0.
}

// dialect captures the per-backend differences in rendering a Filter.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

var (
	dollarDialect = dialect{
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		timeArg:     func(t time.Time) any { return t.UTC() },
	}
	questionDialect = dialect{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return t.UTC() },
	}
)

// selectPositions renders f as a SELECT over the telemetry table.
func selectPositions(f Filter, d dialect) (string, []any) {
	var conditions []string
	var args []any

	if f.SatelliteID != "" {
		args = append(args, f.SatelliteID)
		conditions = append(conditions, "satellite_id = "+d.placeholder(len(args)))
	}
	if f.RequirePosition {
		conditions = append(conditions, "longitude IS NOT NULL", "latitude IS NOT NULL")
	}
	if f.After != nil {
		args = append(args, d.timeArg(*f.After))
		conditions = append(conditions, "creation_date > "+d.placeholder(len(args)))
	}
	if f.Before != nil {
		args = append(args, d.timeArg(*f.Before))
		conditions = append(conditions, "creation_date < "+d.placeholder(len(args)))
	}

	query := "SELECT satellite_id, longitude, latitude, creation_date FROM " + TableName
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	switch f.Order {
	case OrderObservedDesc:
		query += " ORDER BY creation_date DESC"
	case OrderObservedAsc:
		query += " ORDER BY creation_date ASC, satellite_id ASC"
	}

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return query, args
}
