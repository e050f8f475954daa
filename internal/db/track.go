package db

import (
	"database/sql"
	"fmt"
)

// TrackPoint is one GPS/sensor sample as stored in car_track. Nullable
// columns map to pointer fields; nil means the column is NULL.
type TrackPoint struct {
	ID       int64    `json:"id"`
	Device   string   `json:"device"`
	TS       string   `json:"ts"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	AltM     *float64 `json:"alt_m"`
	SpdKmh   *float64 `json:"spd_kmh"`
	HDOP     *float64 `json:"hdop"`
	Sats     *int64   `json:"sats"`
	Course   *float64 `json:"course"`
	TempC    *float64 `json:"temp_c"`
	HumPct   *float64 `json:"hum_pct"`
	DtS      *float64 `json:"dt_s"`
	DistM    *float64 `json:"dist_m"`
	Filename string   `json:"filename"`
}

func nullFloat(v sql.NullFloat64) *float64 {
	if v.Valid {
		f := v.Float64
		return &f
	}
	return nil
}

func nullInt(v sql.NullInt64) *int64 {
	if v.Valid {
		i := v.Int64
		return &i
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		s := v.String
		return &s
	}
	return nil
}

// InsertTrackPoint stores one sample. Rows are append-only; the core never
// updates or deletes them.
func (db *DB) InsertTrackPoint(p *TrackPoint) error {
	_, err := db.Exec(
		`INSERT INTO car_track
			(device, ts, lat, lon, alt_m, spd_kmh, hdop, sats, course, temp_c, hum_pct, dt_s, dist_m, filename)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Device, p.TS, p.Lat, p.Lon, p.AltM, p.SpdKmh, p.HDOP, p.Sats,
		p.Course, p.TempC, p.HumPct, p.DtS, p.DistM, p.Filename,
	)
	if err != nil {
		return fmt.Errorf("failed to insert track point: %w", err)
	}
	return nil
}

// LatestPointBefore returns the most recent point for device with a
// timestamp strictly before ts and non-null coordinates, or nil when no such
// point exists. Used by ingestion to derive dist_m.
func (db *DB) LatestPointBefore(device, ts string) (*TrackPoint, error) {
	row := db.QueryRow(
		`SELECT ts, lat, lon FROM car_track
			WHERE device = ? AND ts < ? AND lat IS NOT NULL AND lon IS NOT NULL
			ORDER BY ts DESC LIMIT 1`,
		device, ts,
	)

	var p TrackPoint
	var lat, lon float64
	if err := row.Scan(&p.TS, &lat, &lon); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest point: %w", err)
	}
	p.Device = device
	p.Lat = &lat
	p.Lon = &lon
	return &p, nil
}

// TrackDistanceSum sums dist_m over points for device with timestamps in
// [startTS, endTS] inclusive. Points with NULL dist_m contribute nothing.
func (db *DB) TrackDistanceSum(device, startTS, endTS string) (float64, error) {
	var sum sql.NullFloat64
	err := db.QueryRow(
		`SELECT SUM(dist_m) FROM car_track WHERE device = ? AND ts BETWEEN ? AND ?`,
		device, startTS, endTS,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum track distance: %w", err)
	}
	if !sum.Valid {
		return 0, nil
	}
	return sum.Float64, nil
}

// TrackPointCount reports the number of stored samples for a device.
// Primarily used by tests and the seeding tools.
func (db *DB) TrackPointCount(device string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM car_track WHERE device = ?`, device).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// TrackPointsForDevice returns all samples for a device ordered by
// timestamp, then by insertion order for equal timestamps.
func (db *DB) TrackPointsForDevice(device string) ([]TrackPoint, error) {
	rows, err := db.Query(
		`SELECT id, device, ts, lat, lon, alt_m, spd_kmh, hdop, sats, course,
			temp_c, hum_pct, dt_s, dist_m, filename
			FROM car_track WHERE device = ? ORDER BY ts, id`,
		device,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TrackPoint
	for rows.Next() {
		var p TrackPoint
		var lat, lon, alt, spd, hdop, course, temp, hum, dt, dist sql.NullFloat64
		var sats sql.NullInt64
		var filename sql.NullString
		if err := rows.Scan(
			&p.ID, &p.Device, &p.TS, &lat, &lon, &alt, &spd, &hdop, &sats,
			&course, &temp, &hum, &dt, &dist, &filename,
		); err != nil {
			return nil, err
		}
		p.Lat = nullFloat(lat)
		p.Lon = nullFloat(lon)
		p.AltM = nullFloat(alt)
		p.SpdKmh = nullFloat(spd)
		p.HDOP = nullFloat(hdop)
		p.Sats = nullInt(sats)
		p.Course = nullFloat(course)
		p.TempC = nullFloat(temp)
		p.HumPct = nullFloat(hum)
		p.DtS = nullFloat(dt)
		p.DistM = nullFloat(dist)
		if filename.Valid {
			p.Filename = filename.String
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}
