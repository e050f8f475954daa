// Package ingest turns raw CSV telemetry uploads into normalized track
// rows with derived elapsed-time and distance columns.
package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cartracker-data/cartracker/internal/db"
	"github.com/cartracker-data/cartracker/internal/geo"
)

// minFields is the number of comma-separated fields a line must carry:
// timestamp, lat, lon, alt, speed, hdop, sats, course, temp, hum.
const minFields = 10

var lineSplit = regexp.MustCompile(`\r?\n`)

// Ingestor processes CSV batches for one device at a time. Lines are
// handled strictly sequentially: each line's distance lookup runs against
// rows already committed, including earlier lines of the same batch.
type Ingestor struct {
	db *db.DB
}

func New(database *db.DB) *Ingestor {
	return &Ingestor{db: database}
}

// IngestCSV parses and stores a batch of CSV lines uploaded by a device.
// It returns the number of non-blank lines received. Lines with fewer than
// ten fields are skipped but still counted; fields that fail numeric
// parsing are stored as NULL without rejecting the row. Only a storage
// failure aborts the batch, leaving already-committed rows in place.
func (ing *Ingestor) IngestCSV(device, filename, body string) (int, error) {
	var lines []string
	for _, l := range lineSplit.Split(body, -1) {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	var prevTS string
	for _, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) < minFields {
			continue
		}

		ts := fields[0]
		lat := parseFloat(fields[1])
		lon := parseFloat(fields[2])
		alt := parseFloat(fields[3])
		spd := parseFloat(fields[4])
		hdop := parseFloat(fields[5])
		sats := parseInt(fields[6])
		course := parseFloat(fields[7])
		temp := parseFloat(fields[8])
		hum := parseFloat(fields[9])

		// Elapsed time against the previous line of this batch, not the
		// store; there is no carry-over between uploads.
		var dt *float64
		if prevTS != "" {
			dt = elapsedSeconds(prevTS, ts)
		}
		prevTS = ts

		var dist *float64
		if lat != nil && lon != nil {
			last, err := ing.db.LatestPointBefore(device, ts)
			if err != nil {
				return 0, err
			}
			if last != nil {
				d := geo.DistanceMeters(*lat, *lon, *last.Lat, *last.Lon)
				dist = &d
			}
		}

		point := &db.TrackPoint{
			Device:   device,
			TS:       ts,
			Lat:      lat,
			Lon:      lon,
			AltM:     alt,
			SpdKmh:   spd,
			HDOP:     hdop,
			Sats:     sats,
			Course:   course,
			TempC:    temp,
			HumPct:   hum,
			DtS:      dt,
			DistM:    dist,
			Filename: filename,
		}
		if err := ing.db.InsertTrackPoint(point); err != nil {
			return 0, err
		}
	}

	return len(lines), nil
}

// parseFloat coerces a CSV field to a float, returning nil for anything
// that is not a finite number. ParseFloat accepts "NaN" and "Inf" spellings,
// which are not valid sensor readings.
func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseInt coerces a CSV field to an integer, accepting float notation
// (e.g. "8.0") by truncation.
func parseInt(s string) *int64 {
	v := parseFloat(s)
	if v == nil {
		return nil
	}
	i := int64(*v)
	return &i
}

// timestampLayouts are the accepted CSV timestamp shapes. Devices send
// UTC ISO-8601; a missing zone suffix is tolerated.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func elapsedSeconds(prev, cur string) *float64 {
	p, okP := parseTimestamp(prev)
	c, okC := parseTimestamp(cur)
	if !okP || !okC {
		return nil
	}
	dt := c.Sub(p).Seconds()
	return &dt
}
