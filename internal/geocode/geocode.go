// Package geocode resolves station addresses to coordinates via the
// Nominatim search API, with a persistent file-backed cache in front.
package geocode

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cartracker-data/cartracker/internal/httputil"
)

const nominatimURL = "https://nominatim.openstreetmap.org/search"

// userAgent identifies the service to Nominatim, per its usage policy.
const userAgent = "cartracker/1.0"

// Result is a resolved coordinate pair.
type Result struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Client geocodes addresses. Lookup failures are swallowed: fuel fills are
// stored without coordinates rather than failing an upload over geocoding.
type Client struct {
	http    httputil.HTTPClient
	cache   Cache
	baseURL string
}

// NewClient creates a geocoding client. The cache must be non-nil; it is
// consulted before and updated after every network lookup.
func NewClient(hc httputil.HTTPClient, cache Cache) *Client {
	return &Client{http: hc, cache: cache, baseURL: nominatimURL}
}

// Geocode resolves an address to coordinates, or nil when the address is
// blank, unknown, or the lookup fails.
func (c *Client) Geocode(addr string) *Result {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(addr))
	if r, ok := c.cache.Get(key); ok {
		return &r
	}

	log.Printf("geocoding address: %s", addr)
	r, err := c.lookup(addr)
	if err != nil {
		log.Printf("geocoding error for %q: %v", addr, err)
		return nil
	}
	if r == nil {
		return nil
	}

	if err := c.cache.Put(key, *r); err != nil {
		log.Printf("failed to cache geocoding result: %v", err)
	}
	return r
}

func (c *Client) lookup(addr string) (*Result, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("q", addr)
	q.Set("limit", "1")
	q.Set("countrycodes", "de")

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim status %d", resp.StatusCode)
	}

	// Nominatim returns coordinates as strings.
	var places []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %v", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %v", places[0].Lon, err)
	}
	return &Result{Lat: lat, Lon: lon}, nil
}
