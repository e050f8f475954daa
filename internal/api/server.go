// Package api exposes the tracker's HTTP surface: CSV telemetry uploads,
// fuel receipt processing, and the dashboard's trip/fuel queries.
package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cartracker-data/cartracker/internal/db"
	"github.com/cartracker-data/cartracker/internal/httputil"
	"github.com/cartracker-data/cartracker/internal/ingest"
	"github.com/cartracker-data/cartracker/internal/receipt"
	"github.com/cartracker-data/cartracker/internal/timeutil"
)

// maxUploadBytes caps a CSV upload body.
const maxUploadBytes = 10 << 20

// maxReceiptBytes caps an uploaded receipt photo.
const maxReceiptBytes = 32 << 20

// maxPageSize is the hard cap on paginated listings.
const maxPageSize = 200

type Server struct {
	db        *db.DB
	ingestor  *ingest.Ingestor
	receipts  *receipt.Pipeline
	uploadDir string
	clock     timeutil.Clock
	started   time.Time

	gpsLimiter     *RateLimiter
	receiptLimiter *RateLimiter
	apiLimiter     *RateLimiter
}

// NewServer wires the API against storage and the receipt pipeline. A nil
// clock falls back to the real one.
func NewServer(database *db.DB, ingestor *ingest.Ingestor, receipts *receipt.Pipeline, uploadDir string, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		db:        database,
		ingestor:  ingestor,
		receipts:  receipts,
		uploadDir: uploadDir,
		clock:     clock,
		started:   clock.Now(),

		// Rate tiers carried over from the original deployment: telemetry
		// uploads are frequent, receipt OCR is expensive, reads sit between.
		gpsLimiter:     PerMinute(30),
		receiptLimiter: PerMinute(10),
		apiLimiter:     PerMinute(60),
	}
}

// ServeMux returns the route table. Everything except /health sits behind
// the trusted-header auth middleware and a rate-limit tier.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/upload/", s.auth(s.gpsLimiter.Wrap(s.handleUpload)))
	mux.HandleFunc("/uploadReceipt", s.auth(s.receiptLimiter.Wrap(s.handleUploadReceipt)))
	mux.HandleFunc("/retryReceipt/", s.auth(s.receiptLimiter.Wrap(s.handleRetryReceipt)))
	mux.HandleFunc("/api/fuel", s.auth(s.apiLimiter.Wrap(s.handleFuel)))
	mux.HandleFunc("/api/fuel/months", s.auth(s.apiLimiter.Wrap(s.handleFuelMonths)))
	mux.HandleFunc("/api/fuel/chart", s.auth(s.apiLimiter.Wrap(s.handleFuelChart)))
	mux.HandleFunc("/api/trips", s.auth(s.apiLimiter.Wrap(s.handleTrips)))
	mux.HandleFunc("/api/trip/", s.auth(s.apiLimiter.Wrap(s.handleTripPoints)))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"uptime":    s.clock.Since(s.started).Seconds(),
	})
}

type uploadResponse struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}

// handleUpload ingests a CSV batch for the authenticated device. The
// response count covers every non-blank line received, including lines
// skipped as malformed; receiving the batch is success regardless of how
// many lines stored with full fidelity.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/upload/")
	if filename == "" {
		httputil.BadRequest(w, "filename required")
		return
	}

	device := UserFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		httputil.BadRequest(w, "failed to read body")
		return
	}

	count, err := s.ingestor.IngestCSV(device, filename, string(body))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, uploadResponse{OK: true, Count: count})
}

// handleUploadReceipt stores the uploaded photo under a fresh name and
// runs it through the receipt pipeline. OCR failure still answers 200 with
// ok=false; only missing files and storage failures are HTTP errors.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	user := UserFromContext(r.Context())

	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, receipt.UploadResult{OK: false, Error: strPtr("no file")})
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, receipt.UploadResult{OK: false, Error: strPtr("no file")})
		return
	}
	defer file.Close()

	photoPath, err := s.storePhoto(file, header.Filename)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	result, err := s.receipts.ProcessUpload(user, photoPath)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, result)
}

// storePhoto copies an uploaded photo into the upload directory under a
// random name, keeping only the (lowercased) extension from the client so
// path components can never escape the directory.
func (s *Server) storePhoto(file io.Reader, clientName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(clientName)))
	switch ext {
	case ".jpg", ".jpeg", ".png":
	default:
		ext = ".jpg"
	}
	path := filepath.Join(s.uploadDir, uuid.New().String()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) handleRetryReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	user := UserFromContext(r.Context())

	idStr := strings.TrimPrefix(r.URL.Path, "/retryReceipt/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		httputil.NotFound(w, "not found")
		return
	}

	result, err := s.receipts.Retry(user, id)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			httputil.NotFound(w, "not found")
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) handleFuel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	fills, err := s.db.ListFuelFills(limit, offset)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if fills == nil {
		fills = []db.FuelFill{}
	}
	httputil.WriteJSONOK(w, fills)
}

func (s *Server) handleFuelMonths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	stats, err := s.db.MonthlyFuelStats()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if stats == nil {
		stats = []db.MonthStat{}
	}
	httputil.WriteJSONOK(w, stats)
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	trips, err := s.db.ListTrips(limit, offset)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if trips == nil {
		trips = []db.Trip{}
	}
	httputil.WriteJSONOK(w, trips)
}

// handleTripPoints serves the decimated point sequence for one trip. A
// start timestamp that does not match a trip boundary yields an empty
// array, not an error.
func (s *Server) handleTripPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	start := strings.TrimPrefix(r.URL.Path, "/api/trip/")
	if start == "" {
		httputil.BadRequest(w, "trip start timestamp required")
		return
	}

	points, err := s.db.TripPoints(start)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, points)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func strPtr(s string) *string { return &s }
