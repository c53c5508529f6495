package storage

import (
	"reflect"
	"testing"
	"time"
)

func TestSelectPositions(t *testing.T) {
	lower := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	upper := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   Filter
		dialect  dialect
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no conditions",
			filter:  Filter{},
			dialect: dollarDialect,
			wantSQL: "SELECT satellite_id, longitude, latitude, creation_date FROM starlink_historical_data",
		},
		{
			name: "last position postgres",
			filter: Filter{
				SatelliteID: "S1",
				After:       &lower,
				Before:      &upper,
				Order:       OrderObservedDesc,
				Limit:       1,
			},
			dialect: dollarDialect,
			wantSQL: "SELECT satellite_id, longitude, latitude, creation_date FROM starlink_historical_data" +
				" WHERE satellite_id = $1 AND creation_date > $2 AND creation_date < $3" +
				" ORDER BY creation_date DESC LIMIT 1",
			wantArgs: []any{"S1", lower, upper},
		},
		{
			name: "closest clickhouse",
			filter: Filter{
				RequirePosition: true,
				Before:          &upper,
				Order:           OrderObservedAsc,
			},
			dialect: questionDialect,
			wantSQL: "SELECT satellite_id, longitude, latitude, creation_date FROM starlink_historical_data" +
				" WHERE longitude IS NOT NULL AND latitude IS NOT NULL AND creation_date < ?" +
				" ORDER BY creation_date ASC, satellite_id ASC",
			wantArgs: []any{upper},
		},
		{
			name:     "sqlite formats times as text",
			filter:   Filter{After: &lower},
			dialect:  sqliteDialect,
			wantSQL:  "SELECT satellite_id, longitude, latitude, creation_date FROM starlink_historical_data WHERE creation_date > ?",
			wantArgs: []any{"2018-01-01 00:00:00.000000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs := selectPositions(tt.filter, tt.dialect)
			if gotSQL != tt.wantSQL {
				t.Errorf("sql:\n got  %s\n want %s", gotSQL, tt.wantSQL)
			}
			if len(gotArgs) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", gotArgs, tt.wantArgs)
			}
			for i := range gotArgs {
				if !reflect.DeepEqual(gotArgs[i], tt.wantArgs[i]) {
					t.Errorf("arg %d = %v, want %v", i, gotArgs[i], tt.wantArgs[i])
				}
			}
		})
	}
}
