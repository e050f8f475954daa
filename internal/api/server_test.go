package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cartracker-data/cartracker/internal/db"
	"github.com/cartracker-data/cartracker/internal/geocode"
	"github.com/cartracker-data/cartracker/internal/ingest"
	"github.com/cartracker-data/cartracker/internal/receipt"
	"github.com/cartracker-data/cartracker/internal/timeutil"
)

type stubParser struct {
	parsed *receipt.Parsed
	err    error
}

func (s *stubParser) ParseReceipt(path string) (*receipt.Parsed, error) {
	return s.parsed, s.err
}

type stubGeocoder struct{}

func (stubGeocoder) Geocode(addr string) *geocode.Result { return nil }

func newTestServer(t *testing.T, parser receipt.Parser) (*Server, *db.DB) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if parser == nil {
		parser = &stubParser{err: errors.New("no OCR in tests")}
	}
	clock := timeutil.NewFakeClock(time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC))
	pipeline := receipt.NewPipeline(database, parser, stubGeocoder{}, clock)
	return NewServer(database, ingest.New(database), pipeline, dir, clock), database
}

// doRequest runs a request through the full mux as if it came from
// localhost, with the development identity unless a user is given.
func doRequest(s *Server, method, target, user string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader([]byte{})
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Host = "localhost:8080"
	if user != "" {
		req.Header.Set("X-Auth-User", user)
	}
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func csvLine(ts string, lat, lon float64) string {
	return fmt.Sprintf("%s,%.6f,%.6f,170.0,50.0,1.10,9,45.0,21.5,60.0", ts, lat, lon)
}

func TestHealthNoAuth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "gps.example.com"
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
	if resp["timestamp"] != "2025-08-18T12:00:00Z" {
		t.Errorf("timestamp = %v", resp["timestamp"])
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
	req.Host = "gps.example.com"
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "X-Auth-User header missing") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuthRejectsDevelopmentRemotely(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
	req.Host = "gps.example.com"
	req.Header.Set("X-Auth-User", "development")
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Authentication required") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuthLocalhostDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil)

	// No header from localhost falls back to the development identity.
	w := doRequest(s, http.MethodGet, "/api/trips", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAuthTrustsProxyHeader(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/trips", nil)
	req.Host = "gps.example.com"
	req.Header.Set("X-Auth-User", "car-1")
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUpload(t *testing.T) {
	s, database := newTestServer(t, nil)

	body := strings.Join([]string{
		csvLine("2025-08-18T08:00:00Z", 50.2268, 8.6184),
		csvLine("2025-08-18T08:00:05Z", 50.2270, 8.6186),
	}, "\n")

	w := doRequest(s, http.MethodPost, "/upload/drive.csv", "car-1", []byte(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if !resp.OK || resp.Count != 2 {
		t.Errorf("resp = %+v, want ok with count 2", resp)
	}

	// Stored under the header identity, not the filename.
	n, err := database.TrackPointCount("car-1")
	if err != nil {
		t.Fatalf("TrackPointCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}
}

func TestUploadRequiresFilename(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/upload/", "car-1", []byte("x"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/upload/drive.csv", "car-1", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestTrips(t *testing.T) {
	s, database := newTestServer(t, nil)

	// Two bursts: one closed trip.
	for i, ts := range []string{"2025-08-18T08:00:00Z", "2025-08-18T08:05:00Z", "2025-08-18T09:00:00Z"} {
		lat := 50.0 + float64(i)*0.01
		dist := 100.0
		spd := 50.0
		p := &db.TrackPoint{Device: "car-1", TS: ts, Lat: &lat, Lon: floatPtr(8.6), SpdKmh: &spd, DistM: &dist}
		if err := database.InsertTrackPoint(p); err != nil {
			t.Fatalf("InsertTrackPoint failed: %v", err)
		}
	}

	w := doRequest(s, http.MethodGet, "/api/trips", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var trips []db.Trip
	if err := json.Unmarshal(w.Body.Bytes(), &trips); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(trips) != 1 {
		t.Fatalf("got %d trips, want 1", len(trips))
	}
	if trips[0].StartTS != "2025-08-18T08:00:00Z" || trips[0].EndTS != "2025-08-18T09:00:00Z" {
		t.Errorf("trip = %+v", trips[0])
	}
}

func TestTripsEmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/trips", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestTripPointsUnknownStart(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/trip/2025-08-18T08:00:00Z", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestFuelListAndClamp(t *testing.T) {
	s, database := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		liters := 40.0
		fill := &db.FuelFill{
			TS:       fmt.Sprintf("2025-08-%02dT08:00:00Z", 10+i),
			Liters:   &liters,
			FullTank: true,
			User:     "car-1",
		}
		if _, err := database.InsertFuelFill(fill); err != nil {
			t.Fatalf("InsertFuelFill failed: %v", err)
		}
	}

	w := doRequest(s, http.MethodGet, "/api/fuel?limit=2", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var fills []db.FuelFill
	if err := json.Unmarshal(w.Body.Bytes(), &fills); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(fills) != 2 {
		t.Errorf("got %d fills, want 2", len(fills))
	}
	if fills[0].TS != "2025-08-12T08:00:00Z" {
		t.Errorf("first fill ts = %s, want newest", fills[0].TS)
	}

	// Oversized limits clamp rather than error.
	w = doRequest(s, http.MethodGet, "/api/fuel?limit=100000", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d for clamped limit", w.Code)
	}

	// Offset.
	w = doRequest(s, http.MethodGet, "/api/fuel?limit=2&offset=2", "car-1", nil)
	fills = nil
	if err := json.Unmarshal(w.Body.Bytes(), &fills); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(fills) != 1 || fills[0].TS != "2025-08-10T08:00:00Z" {
		t.Errorf("offset page = %+v", fills)
	}
}

func TestFuelMonths(t *testing.T) {
	s, database := newTestServer(t, nil)

	liters := 40.0
	total := 66.36
	fill := &db.FuelFill{TS: "2025-08-18T08:00:00Z", Liters: &liters, AmountTotal: &total, FullTank: true, User: "car-1"}
	if _, err := database.InsertFuelFill(fill); err != nil {
		t.Fatalf("InsertFuelFill failed: %v", err)
	}

	w := doRequest(s, http.MethodGet, "/api/fuel/months", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats []db.MonthStat
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(stats) != 1 || stats[0].Month != "2025-08" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFuelChart(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/fuel/chart", "car-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("chart page should embed echarts")
	}
}

func TestUploadReceipt(t *testing.T) {
	ts := "2025-08-18T07:45:00Z"
	liters := 45.2
	total := 74.99
	parser := &stubParser{parsed: &receipt.Parsed{TS: &ts, Liters: &liters, AmountTotal: &total}}
	s, database := newTestServer(t, parser)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", "receipt.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write([]byte("fake image bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploadReceipt", &buf)
	req.Host = "localhost:8080"
	req.Header.Set("X-Auth-User", "car-1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp receipt.UploadResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if !resp.OK {
		t.Errorf("resp = %+v, want ok", resp)
	}

	fills, err := database.ListFuelFills(10, 0)
	if err != nil {
		t.Fatalf("ListFuelFills failed: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].PhotoPath == nil || !strings.HasSuffix(*fills[0].PhotoPath, ".jpg") {
		t.Errorf("photo_path = %v", fills[0].PhotoPath)
	}
}

func TestUploadReceiptNoFile(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/uploadReceipt", "car-1", []byte("not multipart"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no file") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRetryReceiptNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/retryReceipt/999", "car-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = doRequest(s, http.MethodPost, "/retryReceipt/notanumber", "car-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for bad id, want 404", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, nil)
	// Shrink the read tier so the test doesn't need 61 requests.
	s.apiLimiter = PerMinute(2)

	for i := 0; i < 2; i++ {
		if w := doRequest(s, http.MethodGet, "/api/trips", "car-1", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	w := doRequest(s, http.MethodGet, "/api/trips", "car-1", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	// Another identity has its own bucket.
	if w := doRequest(s, http.MethodGet, "/api/trips", "car-2", nil); w.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", w.Code)
	}
}

func floatPtr(f float64) *float64 { return &f }
