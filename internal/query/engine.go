// Package query answers position questions over stored satellite telemetry:
// a satellite's last known position and the satellite closest to a point,
// both within an optional time window.
package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/paulmach/orb"

	"starlink_history/internal/geo"
	"starlink_history/internal/metrics"
	"starlink_history/internal/storage"
	"starlink_history/internal/timewindow"
)

// Position is a recorded satellite position. A coordinate is nil when the
// record did not include it.
type Position struct {
	Latitude  *float64
	Longitude *float64
}

// ClosestMatch is the record nearest to a reference point.
type ClosestMatch struct {
	SatelliteID string
	DistanceKm  float64
}

// Engine resolves position queries against a store. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	store  storage.PositionReader
	logger *slog.Logger
}

// NewEngine creates an engine reading from store. A nil logger uses slog.Default().
func NewEngine(store storage.PositionReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// IsInvalidInput reports whether err is a date validation failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, timewindow.ErrInvalidDateFormat) || errors.Is(err, timewindow.ErrInvalidDateRange)
}

// LastPosition returns the most recent position recorded for satelliteID
// strictly inside the window described by b. It returns (nil, nil) when no
// record qualifies. Store errors are returned unchanged.
func (e *Engine) LastPosition(ctx context.Context, satelliteID string, b timewindow.Bounds) (*Position, error) {
	w, err := timewindow.Parse(b)
	if err != nil {
		metrics.ObserveQuery(metrics.KindLastPosition, metrics.OutcomeInvalid, 0)
		return nil, err
	}

	rows, err := e.store.ReadPositions(ctx, storage.Filter{
		SatelliteID: satelliteID,
		After:       w.Lower,
		Before:      w.Upper,
		Order:       storage.OrderObservedDesc,
		Limit:       1,
	})
	if err != nil {
		metrics.ObserveQuery(metrics.KindLastPosition, metrics.OutcomeError, 0)
		return nil, err
	}

	if len(rows) == 0 {
		metrics.ObserveQuery(metrics.KindLastPosition, metrics.OutcomeNotFound, 0)
		e.logger.InfoContext(ctx, "no data found for satellite within the date range",
			"satellite_id", satelliteID)
		return nil, nil
	}

	r := rows[0]
	pos := &Position{Latitude: r.Latitude, Longitude: r.Longitude}

	metrics.ObserveQuery(metrics.KindLastPosition, metrics.OutcomeFound, len(rows))
	e.logger.InfoContext(ctx, "last known position",
		"satellite_id", satelliteID,
		"observed_at", r.ObservedAt)
	return pos, nil
}

// ClosestSatellite scans every positioned record strictly inside the window
// described by b and returns the one nearest to point. Records are scanned
// oldest first, then by satellite id, and an exact tie keeps the earlier
// candidate. Rows without both coordinates or outside the window are never
// candidates. Records are not deduplicated per satellite. It returns
// (nil, nil) when no record qualifies.
func (e *Engine) ClosestSatellite(ctx context.Context, point orb.Point, b timewindow.Bounds) (*ClosestMatch, error) {
	w, err := timewindow.Parse(b)
	if err != nil {
		metrics.ObserveQuery(metrics.KindClosest, metrics.OutcomeInvalid, 0)
		return nil, err
	}

	rows, err := e.store.ReadPositions(ctx, storage.Filter{
		RequirePosition: true,
		After:           w.Lower,
		Before:          w.Upper,
		Order:           storage.OrderObservedAsc,
	})
	if err != nil {
		metrics.ObserveQuery(metrics.KindClosest, metrics.OutcomeError, 0)
		return nil, err
	}

	var best *ClosestMatch
	for _, r := range rows {
		if r.Latitude == nil || r.Longitude == nil || !w.Contains(r.ObservedAt) {
			continue
		}
		d := geo.Distance(point, geo.NewPoint(*r.Latitude, *r.Longitude))
		if best == nil || d < best.DistanceKm {
			best = &ClosestMatch{SatelliteID: r.SatelliteID, DistanceKm: d}
		}
	}

	if best == nil {
		metrics.ObserveQuery(metrics.KindClosest, metrics.OutcomeNotFound, len(rows))
		e.logger.InfoContext(ctx, "no positioned records within the date range",
			"latitude", point.Lat(), "longitude", point.Lon())
		return nil, nil
	}

	metrics.ObserveQuery(metrics.KindClosest, metrics.OutcomeFound, len(rows))
	e.logger.InfoContext(ctx, "closest satellite",
		"latitude", point.Lat(),
		"longitude", point.Lon(),
		"satellite_id", best.SatelliteID,
		"distance_km", best.DistanceKm,
		"candidates", len(rows))
	return best, nil
}
