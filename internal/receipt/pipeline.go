package receipt

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/cartracker-data/cartracker/internal/db"
	"github.com/cartracker-data/cartracker/internal/geocode"
	"github.com/cartracker-data/cartracker/internal/timeutil"
)

// ErrNotFound is returned by Retry when the fill does not exist, is owned
// by someone else, or carries no photo.
var ErrNotFound = errors.New("fuel fill not found")

// fallbackTSLayout matches sqlite's datetime('now') output, used for fills
// whose receipt yielded no timestamp.
const fallbackTSLayout = "2006-01-02 15:04:05"

// Parser extracts fields from a receipt photo.
type Parser interface {
	ParseReceipt(path string) (*Parsed, error)
}

// Geocoder resolves an address to coordinates, nil on any miss or failure.
type Geocoder interface {
	Geocode(addr string) *geocode.Result
}

// Pipeline owns the receipt flow: OCR, geocoding, fill persistence and the
// advisory consumption figure.
type Pipeline struct {
	db    *db.DB
	ocr   Parser
	geo   Geocoder
	clock timeutil.Clock
}

func NewPipeline(database *db.DB, ocr Parser, geo Geocoder, clock timeutil.Clock) *Pipeline {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{db: database, ocr: ocr, geo: geo, clock: clock}
}

// UploadResult is the response body for a receipt upload. Consumption is
// advisory and only set when two full-tank anchors with recorded distance
// between them exist.
type UploadResult struct {
	OK          bool     `json:"ok"`
	Parsed      *Parsed  `json:"parsed"`
	Error       *string  `json:"error"`
	Consumption *float64 `json:"consumption"`
}

// RetryResult is the response body for an OCR retry.
type RetryResult struct {
	OK     bool    `json:"ok"`
	Parsed *Parsed `json:"parsed,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// ProcessUpload runs OCR and geocoding on an uploaded photo and stores the
// resulting fill. OCR failure is not an error: the fill is stored with only
// the photo path and error message so it can be retried. Only storage
// failures are returned.
func (p *Pipeline) ProcessUpload(user, photoPath string) (*UploadResult, error) {
	parsed, err := p.ocr.ParseReceipt(photoPath)

	if err != nil {
		msg := err.Error()
		log.Printf("OCR parsing failed for %s: %s", user, msg)
		ts := p.clock.Now().UTC().Format(fallbackTSLayout)
		if _, ierr := p.db.InsertFuelError(ts, photoPath, msg, user); ierr != nil {
			return nil, ierr
		}
		consumption, cerr := p.db.Consumption(user)
		if cerr != nil {
			return nil, cerr
		}
		return &UploadResult{OK: false, Error: &msg, Consumption: consumption}, nil
	}

	fill := p.fillFromParsed(parsed, user)
	fill.PhotoPath = &photoPath
	fill.FullTank = true
	if _, err := p.db.InsertFuelFill(fill); err != nil {
		return nil, err
	}

	consumption, err := p.db.Consumption(user)
	if err != nil {
		return nil, err
	}
	return &UploadResult{OK: true, Parsed: parsed, Consumption: consumption}, nil
}

// Retry re-runs OCR for a previously errored (or previously parsed) fill.
// A failed OCR run rewrites only the error column and reports ok=false; it
// is not an error at this level.
func (p *Pipeline) Retry(user string, id int64) (*RetryResult, error) {
	fill, err := p.db.FuelFillByID(id, user)
	if err != nil {
		return nil, err
	}
	if fill == nil || fill.PhotoPath == nil {
		return nil, ErrNotFound
	}

	parsed, err := p.ocr.ParseReceipt(*fill.PhotoPath)
	if err != nil {
		msg := err.Error()
		log.Printf("OCR retry failed for fill %d: %s", id, msg)
		if serr := p.db.SetFuelOCRError(id, user, msg); serr != nil {
			return nil, serr
		}
		return &RetryResult{OK: false, Error: &msg}, nil
	}

	updated := p.fillFromParsed(parsed, user)
	updated.ID = id
	if err := p.db.UpdateFuelFill(updated); err != nil {
		return nil, err
	}
	return &RetryResult{OK: true, Parsed: parsed}, nil
}

// fillFromParsed maps OCR output onto a fill row, geocoding the station
// address when one was extracted. A receipt without a timestamp falls back
// to the upload time so the NOT NULL ts column holds.
func (p *Pipeline) fillFromParsed(parsed *Parsed, user string) *db.FuelFill {
	ts := p.clock.Now().UTC().Format(fallbackTSLayout)
	if parsed.TS != nil {
		ts = *parsed.TS
	}

	fill := &db.FuelFill{
		TS:             ts,
		Liters:         parsed.Liters,
		PricePerL:      parsed.PricePerL,
		AmountFuel:     parsed.AmountFuel,
		AmountTotal:    parsed.AmountTotal,
		StationName:    parsed.StationName,
		StationZip:     parsed.StationZip,
		StationCity:    parsed.StationCity,
		StationAddress: parsed.StationAddress,
		User:           user,
	}

	if raw, err := json.Marshal(parsed); err == nil {
		text := string(raw)
		fill.OCRText = &text
	}

	if addr := parsed.Address(); addr != "" && p.geo != nil {
		if geo := p.geo.Geocode(addr); geo != nil {
			fill.Lat = &geo.Lat
			fill.Lon = &geo.Lon
		}
	}
	return fill
}
