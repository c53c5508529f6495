package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"starlink_history/internal/storage"
)

// creationDateLayout is the layout of spaceTrack.CREATION_DATE.
const creationDateLayout = "2006-01-02T15:04:05"

// feedRecord is one element of the source document. Only the fields that
// are stored are decoded.
type feedRecord struct {
	ID         string   `json:"id"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	SpaceTrack struct {
		CreationDate string `json:"CREATION_DATE"`
	} `json:"spaceTrack"`
}

// Decode turns the source document into storage records. Each record gets a
// fresh row id; the satellite id is the document's own id field. Elements
// without an id or with a missing or malformed creation date are left out and
// reported in skipped. err is set only when the document itself is not valid.
func Decode(data []byte) (records []storage.Record, skipped []error, err error) {
	var feed []feedRecord
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, nil, fmt.Errorf("decode telemetry document: %w", err)
	}

	records = make([]storage.Record, 0, len(feed))
	for i, fr := range feed {
		if fr.ID == "" {
			skipped = append(skipped, fmt.Errorf("record %d: missing id", i))
			continue
		}
		created, err := time.Parse(creationDateLayout, strings.TrimSpace(fr.SpaceTrack.CreationDate))
		if err != nil {
			skipped = append(skipped, fmt.Errorf("record %d (%s): creation date: %w", i, fr.ID, err))
			continue
		}

		records = append(records, storage.Record{
			ID:           uuid.NewString(),
			SatelliteID:  fr.ID,
			Latitude:     fr.Latitude,
			Longitude:    fr.Longitude,
			CreationDate: created,
		})
	}
	return records, skipped, nil
}
