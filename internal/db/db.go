// Package db manages the sqlite point/fill store and the analytical
// queries derived from it.
package db

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the sqlite database at path and
// bootstraps the schema. The CREATE TABLE IF NOT EXISTS statements keep
// migration-less startup working for tests and dev databases; production
// deployments run MigrateUp on top of this baseline.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS car_track (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			device    TEXT,
			ts        TEXT,
			lat       REAL,
			lon       REAL,
			alt_m     REAL,
			spd_kmh   REAL,
			hdop      REAL,
			sats      INTEGER,
			course    REAL,
			temp_c    REAL,
			hum_pct   REAL,
			dt_s      REAL,
			dist_m    REAL,
			filename  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_track_ts_dev ON car_track(device, ts);
		CREATE TABLE IF NOT EXISTS fuel (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			ts              TEXT NOT NULL,
			liters          REAL,
			price_per_l     REAL,
			amount_fuel     REAL,
			amount_total    REAL,
			station_name    TEXT,
			station_zip     TEXT,
			station_city    TEXT,
			station_address TEXT,
			full_tank       BOOLEAN DEFAULT 1,
			lat             REAL,
			lon             REAL,
			photo_path      TEXT,
			ocr_text        TEXT,
			ocr_error       TEXT,
			user            TEXT
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
