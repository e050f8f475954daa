package db

import (
	"path/filepath"
	"testing"
	"time"
)

const tsLayout = "2006-01-02T15:04:05Z"

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

// insertPoint adds a minimal sample with coordinates, speed and distance.
func insertPoint(t *testing.T, db *DB, device, ts string, lat, lon float64, spd, dist *float64) {
	t.Helper()
	p := &TrackPoint{
		Device:   device,
		TS:       ts,
		Lat:      &lat,
		Lon:      &lon,
		SpdKmh:   spd,
		DistM:    dist,
		Filename: "test.csv",
	}
	if err := db.InsertTrackPoint(p); err != nil {
		t.Fatalf("InsertTrackPoint failed: %v", err)
	}
}

// seedTrack inserts n points for device spaced stepSec apart starting at
// startTS, each carrying the given per-point distance.
func seedTrack(t *testing.T, db *DB, device, startTS string, n, stepSec int, distEach float64) {
	t.Helper()
	start, err := time.Parse(tsLayout, startTS)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", startTS, err)
	}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i*stepSec) * time.Second).UTC().Format(tsLayout)
		insertPoint(t, db, device, ts, 50.0+float64(i)*0.0001, 8.6, floatPtr(50), floatPtr(distEach))
	}
}
