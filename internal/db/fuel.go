package db

import (
	"database/sql"
	"fmt"
)

// FuelFill is one fuel purchase. A row is either parsed (receipt fields
// populated) or errored (only ts, photo_path, ocr_error and user set); the
// retry flow may move a row from errored to parsed in place.
type FuelFill struct {
	ID             int64    `json:"id"`
	TS             string   `json:"ts"`
	Liters         *float64 `json:"liters"`
	PricePerL      *float64 `json:"price_per_l"`
	AmountFuel     *float64 `json:"amount_fuel"`
	AmountTotal    *float64 `json:"amount_total"`
	StationName    *string  `json:"station_name"`
	StationZip     *string  `json:"station_zip"`
	StationCity    *string  `json:"station_city"`
	StationAddress *string  `json:"station_address"`
	FullTank       bool     `json:"full_tank"`
	Lat            *float64 `json:"lat"`
	Lon            *float64 `json:"lon"`
	PhotoPath      *string  `json:"photo_path"`
	OCRText        *string  `json:"ocr_text"`
	OCRError       *string  `json:"ocr_error"`
	User           string   `json:"user"`
}

// InsertFuelFill stores a parsed fill and returns its id.
func (db *DB) InsertFuelFill(f *FuelFill) (int64, error) {
	fullTank := 0
	if f.FullTank {
		fullTank = 1
	}
	res, err := db.Exec(
		`INSERT INTO fuel
			(ts, liters, price_per_l, amount_fuel, amount_total,
			 station_name, station_zip, station_city, station_address,
			 full_tank, lat, lon, photo_path, ocr_text, user)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.TS, f.Liters, f.PricePerL, f.AmountFuel, f.AmountTotal,
		f.StationName, f.StationZip, f.StationCity, f.StationAddress,
		fullTank, f.Lat, f.Lon, f.PhotoPath, f.OCRText, f.User,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fuel fill: %w", err)
	}
	return res.LastInsertId()
}

// InsertFuelError stores an errored fill carrying only the upload metadata,
// so the receipt can be retried later.
func (db *DB) InsertFuelError(ts, photoPath, ocrError, user string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO fuel (ts, photo_path, ocr_error, user) VALUES (?, ?, ?, ?)`,
		ts, photoPath, ocrError, user,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fuel error: %w", err)
	}
	return res.LastInsertId()
}

// UpdateFuelFill rewrites the parsed fields of an existing fill and clears
// its OCR error. Used when a retried OCR run succeeds.
func (db *DB) UpdateFuelFill(f *FuelFill) error {
	_, err := db.Exec(
		`UPDATE fuel SET
			ts=?, liters=?, price_per_l=?, amount_fuel=?, amount_total=?,
			station_name=?, station_zip=?, station_city=?, station_address=?,
			lat=?, lon=?, ocr_text=?, ocr_error=NULL
			WHERE id=? AND user=?`,
		f.TS, f.Liters, f.PricePerL, f.AmountFuel, f.AmountTotal,
		f.StationName, f.StationZip, f.StationCity, f.StationAddress,
		f.Lat, f.Lon, f.OCRText, f.ID, f.User,
	)
	if err != nil {
		return fmt.Errorf("failed to update fuel fill: %w", err)
	}
	return nil
}

// SetFuelOCRError rewrites only the error field of a fill. Used when a
// retried OCR run fails again.
func (db *DB) SetFuelOCRError(id int64, user, msg string) error {
	_, err := db.Exec(`UPDATE fuel SET ocr_error=? WHERE id=? AND user=?`, msg, id, user)
	if err != nil {
		return fmt.Errorf("failed to set fuel ocr error: %w", err)
	}
	return nil
}

// FuelFillByID returns the fill with the given id owned by user, or nil.
func (db *DB) FuelFillByID(id int64, user string) (*FuelFill, error) {
	row := db.QueryRow(fuelSelect+` WHERE id = ? AND user = ?`, id, user)
	f, err := scanFuelFill(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query fuel fill: %w", err)
	}
	return f, nil
}

// LatestFullTankFills returns up to n most recent full-tank fills with
// non-null liters for a user, newest first. These are the only fills
// eligible as consumption anchors.
func (db *DB) LatestFullTankFills(user string, n int) ([]FuelFill, error) {
	rows, err := db.Query(
		fuelSelect+` WHERE user = ? AND liters IS NOT NULL AND full_tank = 1
			ORDER BY ts DESC LIMIT ?`,
		user, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query full-tank fills: %w", err)
	}
	defer rows.Close()
	return collectFuelFills(rows)
}

// ListFuelFills returns fills across all users, newest first.
func (db *DB) ListFuelFills(limit, offset int) ([]FuelFill, error) {
	rows, err := db.Query(fuelSelect+` ORDER BY ts DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list fuel fills: %w", err)
	}
	defer rows.Close()
	return collectFuelFills(rows)
}

// Consumption derives liters per 100 km for a user from their two most
// recent full-tank fills and the track distance recorded between them. The
// fuel user and the track device must be the same identifier. Returns nil
// (not an error) when fewer than two eligible fills exist or no distance
// was recorded between them.
func (db *DB) Consumption(user string) (*float64, error) {
	fills, err := db.LatestFullTankFills(user, 2)
	if err != nil {
		return nil, err
	}
	if len(fills) < 2 {
		return nil, nil
	}

	// fills[1] is the older fill, fills[0] the newer.
	dist, err := db.TrackDistanceSum(user, fills[1].TS, fills[0].TS)
	if err != nil {
		return nil, err
	}
	if dist <= 0 || fills[0].Liters == nil {
		return nil, nil
	}

	// 100000 m per 100 km.
	consumption := *fills[0].Liters / dist * 100000
	return &consumption, nil
}

// MonthStat is one month of the fuel cost rollup. DistM covers all devices;
// months with fills but no driving carry a NULL distance.
type MonthStat struct {
	Month  string   `json:"month"`
	Cost   *float64 `json:"cost"`
	Liters *float64 `json:"liters"`
	DistM  *float64 `json:"km"`
}

// MonthlyFuelStats returns cost, liters and track distance for the 12 most
// recent months carrying at least one fill with a total amount.
func (db *DB) MonthlyFuelStats() ([]MonthStat, error) {
	rows, err := db.Query(`
		WITH months AS (
			SELECT substr(ts,1,7) as month,
				SUM(amount_total) as cost,
				SUM(liters) as liters
			FROM fuel
			WHERE amount_total IS NOT NULL
			GROUP BY month
			ORDER BY month DESC
			LIMIT 12
		)
		SELECT m.month, m.cost, m.liters,
			(SELECT SUM(dist_m) FROM car_track WHERE substr(ts,1,7)=m.month) as km
		FROM months m
		ORDER BY m.month DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly fuel stats: %w", err)
	}
	defer rows.Close()

	var stats []MonthStat
	for rows.Next() {
		var s MonthStat
		var cost, liters, dist sql.NullFloat64
		if err := rows.Scan(&s.Month, &cost, &liters, &dist); err != nil {
			return nil, err
		}
		s.Cost = nullFloat(cost)
		s.Liters = nullFloat(liters)
		s.DistM = nullFloat(dist)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

const fuelSelect = `SELECT id, ts, liters, price_per_l, amount_fuel, amount_total,
	station_name, station_zip, station_city, station_address,
	full_tank, lat, lon, photo_path, ocr_text, ocr_error, user FROM fuel`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFuelFill(row rowScanner) (*FuelFill, error) {
	var f FuelFill
	var liters, pricePerL, amountFuel, amountTotal, lat, lon sql.NullFloat64
	var name, zip, city, address, photoPath, ocrText, ocrError, user sql.NullString
	var fullTank sql.NullInt64

	if err := row.Scan(
		&f.ID, &f.TS, &liters, &pricePerL, &amountFuel, &amountTotal,
		&name, &zip, &city, &address,
		&fullTank, &lat, &lon, &photoPath, &ocrText, &ocrError, &user,
	); err != nil {
		return nil, err
	}

	f.Liters = nullFloat(liters)
	f.PricePerL = nullFloat(pricePerL)
	f.AmountFuel = nullFloat(amountFuel)
	f.AmountTotal = nullFloat(amountTotal)
	f.StationName = nullString(name)
	f.StationZip = nullString(zip)
	f.StationCity = nullString(city)
	f.StationAddress = nullString(address)
	f.FullTank = fullTank.Valid && fullTank.Int64 != 0
	f.Lat = nullFloat(lat)
	f.Lon = nullFloat(lon)
	f.PhotoPath = nullString(photoPath)
	f.OCRText = nullString(ocrText)
	f.OCRError = nullString(ocrError)
	if user.Valid {
		f.User = user.String
	}
	return &f, nil
}

func collectFuelFills(rows *sql.Rows) ([]FuelFill, error) {
	var fills []FuelFill
	for rows.Next() {
		f, err := scanFuelFill(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fills, nil
}
