package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"starlink_history/internal/geo"
	"starlink_history/internal/storage"
	"starlink_history/internal/timewindow"
)

// fakeReader returns canned rows and records every filter it receives.
type fakeReader struct {
	rows    []storage.Row
	err     error
	filters []storage.Filter
}

func (f *fakeReader) ReadPositions(_ context.Context, filter storage.Filter) ([]storage.Row, error) {
	f.filters = append(f.filters, filter)
	return f.rows, f.err
}

func floatPtr(f float64) *float64 { return &f }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T, records []storage.Record) *Engine {
	t.Helper()

	s, err := storage.OpenSQLite(storage.SQLiteConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	if err := s.InsertBatch(ctx, records); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	return NewEngine(s, quietLogger())
}

func fixture() []storage.Record {
	return []storage.Record{
		{ID: "1", SatelliteID: "S1", Latitude: floatPtr(10), Longitude: floatPtr(20), CreationDate: day(2019, 1, 1)},
		{ID: "2", SatelliteID: "S1", Latitude: floatPtr(17.0), Longitude: floatPtr(1.7747363230340207), CreationDate: day(2020, 6, 1)},
		{ID: "3", SatelliteID: "S2", Latitude: floatPtr(53.0), Longitude: floatPtr(109.0), CreationDate: day(2021, 3, 1)},
		{ID: "4", SatelliteID: "S2", CreationDate: day(2022, 3, 1)},
		{ID: "5", SatelliteID: "S3", Latitude: floatPtr(-25.5), Longitude: floatPtr(-49.3), CreationDate: day(2023, 1, 1)},
	}
}

func TestLastPosition(t *testing.T) {
	e := setupEngine(t, fixture())
	ctx := context.Background()

	tests := []struct {
		name      string
		satellite string
		bounds    timewindow.Bounds
		wantLat   float64
		wantLon   float64
		wantNil   bool
	}{
		{
			name:      "within window",
			satellite: "S1",
			bounds:    timewindow.NewBounds("2018-01-01", "2023-01-01"),
			wantLat:   17.0,
			wantLon:   1.7747363230340207,
		},
		{
			name:      "no window returns newest",
			satellite: "S1",
			wantLat:   17.0,
			wantLon:   1.7747363230340207,
		},
		{
			name:      "upper bound excludes newer record",
			satellite: "S1",
			bounds:    timewindow.NewBounds("", "2020-06-01"),
			wantLat:   10,
			wantLon:   20,
		},
		{
			name:      "record exactly at upper is excluded",
			satellite: "S1",
			bounds:    timewindow.NewBounds("2019-01-01", "2020-06-01"),
			wantNil:   true,
		},
		{
			name:      "record exactly at lower is excluded",
			satellite: "S3",
			bounds:    timewindow.NewBounds("2023-01-01", ""),
			wantNil:   true,
		},
		{
			name:      "nonexistent satellite",
			satellite: "nonexistent_id",
			bounds:    timewindow.NewBounds("2018-01-01", "2023-01-01"),
			wantNil:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := e.LastPosition(ctx, tt.satellite, tt.bounds)
			if err != nil {
				t.Fatalf("LastPosition: %v", err)
			}
			if tt.wantNil {
				if pos != nil {
					t.Errorf("expected not found, got %+v", pos)
				}
				return
			}
			if pos == nil {
				t.Fatal("expected a position, got not found")
			}
			if *pos.Latitude != tt.wantLat || *pos.Longitude != tt.wantLon {
				t.Errorf("position = (%v, %v), want (%v, %v)", *pos.Latitude, *pos.Longitude, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestLastPositionUnrecordedCoordinates(t *testing.T) {
	e := setupEngine(t, fixture())

	pos, err := e.LastPosition(context.Background(), "S2", timewindow.Bounds{})
	if err != nil {
		t.Fatal(err)
	}
	if pos == nil {
		t.Fatal("expected the newest S2 record")
	}
	if pos.Latitude != nil || pos.Longitude != nil {
		t.Errorf("expected nil coordinates, got (%v, %v)", pos.Latitude, pos.Longitude)
	}
}

func TestLastPositionFilter(t *testing.T) {
	r := &fakeReader{}
	e := NewEngine(r, quietLogger())

	if _, err := e.LastPosition(context.Background(), "S9", timewindow.NewBounds("2018-01-01", "2023-01-01 12:00:00")); err != nil {
		t.Fatal(err)
	}
	if len(r.filters) != 1 {
		t.Fatalf("expected one read, got %d", len(r.filters))
	}

	f := r.filters[0]
	if f.SatelliteID != "S9" || f.Order != storage.OrderObservedDesc || f.Limit != 1 || f.RequirePosition {
		t.Errorf("unexpected filter: %+v", f)
	}
	if !f.After.Equal(day(2018, 1, 1)) {
		t.Errorf("After = %v", f.After)
	}
	if !f.Before.Equal(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Before = %v", f.Before)
	}
}

func TestValidationFailsBeforeRead(t *testing.T) {
	tests := []struct {
		name    string
		bounds  timewindow.Bounds
		wantErr error
	}{
		{"wrong separator", timewindow.NewBounds("2018/01/01", "2023-01-01"), timewindow.ErrInvalidDateFormat},
		{"reversed range", timewindow.NewBounds("2023-01-01", "2018-01-01"), timewindow.ErrInvalidDateRange},
		{"equal bounds", timewindow.NewBounds("2020-01-01", "2020-01-01"), timewindow.ErrInvalidDateRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReader{}
			e := NewEngine(r, quietLogger())

			_, err := e.LastPosition(context.Background(), "S1", tt.bounds)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LastPosition error = %v, want %v", err, tt.wantErr)
			}
			_, err = e.ClosestSatellite(context.Background(), geo.NewPoint(0, 0), tt.bounds)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ClosestSatellite error = %v, want %v", err, tt.wantErr)
			}
			if !IsInvalidInput(err) {
				t.Errorf("IsInvalidInput(%v) = false", err)
			}
			if len(r.filters) != 0 {
				t.Errorf("store was read %d times", len(r.filters))
			}
		})
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	e := NewEngine(&fakeReader{err: storeErr}, quietLogger())
	ctx := context.Background()

	if _, err := e.LastPosition(ctx, "S1", timewindow.Bounds{}); err != storeErr {
		t.Errorf("LastPosition error = %v, want %v", err, storeErr)
	}
	if _, err := e.ClosestSatellite(ctx, geo.NewPoint(0, 0), timewindow.Bounds{}); err != storeErr {
		t.Errorf("ClosestSatellite error = %v, want %v", err, storeErr)
	}
	if IsInvalidInput(storeErr) {
		t.Error("store error reported as invalid input")
	}
}

func TestClosestSatellite(t *testing.T) {
	e := setupEngine(t, fixture())
	ctx := context.Background()

	tests := []struct {
		name    string
		lat     float64
		lon     float64
		bounds  timewindow.Bounds
		wantID  string
		wantNil bool
	}{
		{name: "curitiba", lat: -25.480877, lon: -49.304424, wantID: "S3"},
		{name: "siberia", lat: 50, lon: 100, wantID: "S2"},
		{name: "window excludes S3", lat: -25.480877, lon: -49.304424, bounds: timewindow.NewBounds("", "2023-01-01"), wantID: "S1"},
		{name: "null positions are not candidates", lat: 0, lon: 0, bounds: timewindow.NewBounds("2022-01-01", "2022-12-31"), wantNil: true},
		{name: "empty window", lat: 0, lon: 0, bounds: timewindow.NewBounds("2030-01-01", ""), wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.ClosestSatellite(ctx, geo.NewPoint(tt.lat, tt.lon), tt.bounds)
			if err != nil {
				t.Fatalf("ClosestSatellite: %v", err)
			}
			if tt.wantNil {
				if m != nil {
					t.Errorf("expected not found, got %+v", m)
				}
				return
			}
			if m == nil {
				t.Fatal("expected a match, got not found")
			}
			if m.SatelliteID != tt.wantID {
				t.Errorf("SatelliteID = %q, want %q", m.SatelliteID, tt.wantID)
			}
		})
	}
}

func TestClosestSatelliteDistances(t *testing.T) {
	ref := geo.NewPoint(0, 0)
	// 150 km due north and roughly 9000 km due east of the reference point.
	north := 150 / geo.EarthRadiusKm * 180 / math.Pi
	east := 9000 / geo.EarthRadiusKm * 180 / math.Pi

	r := &fakeReader{rows: []storage.Row{
		{SatelliteID: "far", Latitude: floatPtr(0), Longitude: floatPtr(east)},
		{SatelliteID: "near", Latitude: floatPtr(north), Longitude: floatPtr(0)},
		{SatelliteID: "here", Latitude: floatPtr(0), Longitude: floatPtr(0)},
	}}
	e := NewEngine(r, quietLogger())

	m, err := e.ClosestSatellite(context.Background(), ref, timewindow.Bounds{})
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.SatelliteID != "here" {
		t.Fatalf("match = %+v, want here", m)
	}
	if m.DistanceKm > 1e-9 {
		t.Errorf("DistanceKm = %v, want ~0", m.DistanceKm)
	}

	f := r.filters[0]
	if !f.RequirePosition || f.SatelliteID != "" || f.Order != storage.OrderObservedAsc || f.Limit != 0 {
		t.Errorf("unexpected filter: %+v", f)
	}
}

func TestClosestSatelliteTieKeepsFirst(t *testing.T) {
	r := &fakeReader{rows: []storage.Row{
		{SatelliteID: "first", Latitude: floatPtr(1), Longitude: floatPtr(0)},
		{SatelliteID: "second", Latitude: floatPtr(-1), Longitude: floatPtr(0)},
		{SatelliteID: "nulls", Latitude: nil, Longitude: floatPtr(0)},
	}}
	e := NewEngine(r, quietLogger())

	m, err := e.ClosestSatellite(context.Background(), geo.NewPoint(0, 0), timewindow.Bounds{})
	if err != nil {
		t.Fatal(err)
	}
	if m.SatelliteID != "first" {
		t.Errorf("SatelliteID = %q, want first", m.SatelliteID)
	}
}

func TestClosestSatelliteSkipsNullRows(t *testing.T) {
	r := &fakeReader{rows: []storage.Row{
		{SatelliteID: "a", Latitude: nil, Longitude: floatPtr(0)},
		{SatelliteID: "b", Latitude: floatPtr(0), Longitude: nil},
	}}
	e := NewEngine(r, quietLogger())

	m, err := e.ClosestSatellite(context.Background(), geo.NewPoint(0, 0), timewindow.Bounds{})
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("expected not found, got %+v", m)
	}
}

func TestClosestSatelliteHonoursWindowOnRows(t *testing.T) {
	r := &fakeReader{rows: []storage.Row{
		{SatelliteID: "on-bound", Latitude: floatPtr(0), Longitude: floatPtr(0), ObservedAt: day(2020, 1, 1)},
		{SatelliteID: "inside", Latitude: floatPtr(10), Longitude: floatPtr(10), ObservedAt: day(2020, 6, 1)},
		{SatelliteID: "after", Latitude: floatPtr(0), Longitude: floatPtr(0), ObservedAt: day(2021, 1, 1)},
	}}
	e := NewEngine(r, quietLogger())

	m, err := e.ClosestSatellite(context.Background(), geo.NewPoint(0, 0), timewindow.NewBounds("2020-01-01", "2021-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.SatelliteID != "inside" {
		t.Errorf("match = %+v, want inside", m)
	}
}

func TestQueriesAreIdempotent(t *testing.T) {
	e := setupEngine(t, fixture())
	ctx := context.Background()
	b := timewindow.NewBounds("2018-01-01", "2023-06-01")

	first, err := e.ClosestSatellite(ctx, geo.NewPoint(40, 40), b)
	if err != nil {
		t.Fatal(err)
	}
	firstPos, err := e.LastPosition(ctx, "S1", b)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		m, err := e.ClosestSatellite(ctx, geo.NewPoint(40, 40), b)
		if err != nil {
			t.Fatal(err)
		}
		if *m != *first {
			t.Errorf("run %d: %+v, want %+v", i, m, first)
		}
		p, err := e.LastPosition(ctx, "S1", b)
		if err != nil {
			t.Fatal(err)
		}
		if *p.Latitude != *firstPos.Latitude || *p.Longitude != *firstPos.Longitude {
			t.Errorf("run %d: position changed", i)
		}
	}
}
