package db

import (
	"database/sql"
	"fmt"
	"math"
)

// TripGapSeconds is the inactivity gap that starts a new trip. A point more
// than this many seconds after its predecessor opens a new trip. Global
// constant, not per-device configurable.
const TripGapSeconds = 900

// MaxTripPoints bounds the point count returned for a single trip; larger
// tracks are stride-decimated down to this size.
const MaxTripPoints = 3000

// tripWindowsCTE derives trip boundaries from the raw point stream. A trip
// starts at a point with no predecessor or with a gap above the threshold;
// its end_ts is the start of the following trip, so the boundary point is
// shared by both windows. The final trip of each device has NULL end_ts and
// is considered still open.
var tripWindowsCTE = fmt.Sprintf(`
	WITH diffs AS (
		SELECT ts, device, LAG(ts) OVER (PARTITION BY device ORDER BY ts) prev_ts
		FROM car_track
	), trips AS (
		SELECT device, ts start_ts, LEAD(ts) OVER (PARTITION BY device ORDER BY ts) end_ts
		FROM diffs
		WHERE prev_ts IS NULL OR strftime('%%s',ts)-strftime('%%s',prev_ts) > %d
	)`, TripGapSeconds)

// Trip is a derived trip window with its summary statistics. Trips are
// never persisted; they are recomputed from car_track on demand.
type Trip struct {
	Device  string   `json:"device"`
	StartTS string   `json:"start_ts"`
	EndTS   string   `json:"end_ts"`
	DistM   *float64 `json:"dist_m"`
	AvgSpd  *float64 `json:"avg_spd"`
}

// TripPoint is the per-point projection served for trip visualization.
type TripPoint struct {
	TS     string   `json:"ts"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	SpdKmh *float64 `json:"spd_kmh"`
	TempC  *float64 `json:"temp_c"`
	AltM   *float64 `json:"alt_m"`
	HDOP   *float64 `json:"hdop"`
	Sats   *int64   `json:"sats"`
}

// ListTrips returns closed trips across all devices, most recent first.
// Open trips (no following trip start) are excluded. Distance sums dist_m
// over the inclusive window; average speed ignores non-positive readings.
func (db *DB) ListTrips(limit, offset int) ([]Trip, error) {
	rows, err := db.Query(tripWindowsCTE+`
		SELECT t.device, t.start_ts, t.end_ts,
			(SELECT SUM(dist_m) FROM car_track WHERE device=t.device AND ts BETWEEN t.start_ts AND t.end_ts) as dist_m,
			(SELECT AVG(spd_kmh) FROM car_track WHERE device=t.device AND ts BETWEEN t.start_ts AND t.end_ts AND spd_kmh > 0) as avg_spd
		FROM trips t
		WHERE t.end_ts IS NOT NULL
		ORDER BY start_ts DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		var t Trip
		var dist, avg sql.NullFloat64
		if err := rows.Scan(&t.Device, &t.StartTS, &t.EndTS, &dist, &avg); err != nil {
			return nil, err
		}
		t.DistM = nullFloat(dist)
		t.AvgSpd = nullFloat(avg)
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trips, nil
}

// TripByStart resolves a trip window from its start timestamp. Returns nil
// when no trip starts at startTS or when the matching trip is still open.
func (db *DB) TripByStart(startTS string) (*Trip, error) {
	row := db.QueryRow(tripWindowsCTE+`
		SELECT device, end_ts FROM trips WHERE start_ts = ?`,
		startTS,
	)

	var t Trip
	var endTS sql.NullString
	if err := row.Scan(&t.Device, &endTS); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve trip: %w", err)
	}
	if !endTS.Valid {
		// Open trip: the device is (or may still be) driving.
		return nil, nil
	}
	t.StartTS = startTS
	t.EndTS = endTS.String
	return &t, nil
}

// TripPoints returns the decimated point sequence for the trip starting at
// startTS, ordered by timestamp. An unknown or open start yields an empty
// slice, not an error.
func (db *DB) TripPoints(startTS string) ([]TripPoint, error) {
	trip, err := db.TripByStart(startTS)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return []TripPoint{}, nil
	}

	points, err := db.tripWindowPoints(trip.Device, trip.StartTS, trip.EndTS)
	if err != nil {
		return nil, err
	}
	return Decimate(points, MaxTripPoints), nil
}

func (db *DB) tripWindowPoints(device, startTS, endTS string) ([]TripPoint, error) {
	rows, err := db.Query(
		`SELECT ts, lat, lon, spd_kmh, temp_c, alt_m, hdop, sats
			FROM car_track WHERE device = ? AND ts BETWEEN ? AND ? ORDER BY ts`,
		device, startTS, endTS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trip points: %w", err)
	}
	defer rows.Close()

	points := []TripPoint{}
	for rows.Next() {
		var p TripPoint
		var lat, lon, spd, temp, alt, hdop sql.NullFloat64
		var sats sql.NullInt64
		if err := rows.Scan(&p.TS, &lat, &lon, &spd, &temp, &alt, &hdop, &sats); err != nil {
			return nil, err
		}
		p.Lat = nullFloat(lat)
		p.Lon = nullFloat(lon)
		p.SpdKmh = nullFloat(spd)
		p.TempC = nullFloat(temp)
		p.AltM = nullFloat(alt)
		p.HDOP = nullFloat(hdop)
		p.Sats = nullInt(sats)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

// Decimate reduces points to at most max entries by keeping every Nth point
// with N = ceil(len/max). Index 0 is always kept. This is plain stride
// decimation, not distance- or curvature-aware simplification.
func Decimate(points []TripPoint, max int) []TripPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	step := int(math.Ceil(float64(len(points)) / float64(max)))
	out := make([]TripPoint, 0, len(points)/step+1)
	for i := 0; i < len(points); i += step {
		out = append(out, points[i])
	}
	return out
}
