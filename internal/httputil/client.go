// Package httputil provides HTTP helpers shared by the API layer and the
// outbound OCR/geocoding clients.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient abstracts outbound HTTP calls so the OCR and geocoding
// clients can be tested without network access.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a StandardClient. A nil argument falls back to
// http.DefaultClient.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockResponse is a canned response returned by MockClient.
type MockResponse struct {
	StatusCode int
	Body       string
	Err        error
}

// MockClient replays canned responses in order and records every request it
// receives. When the canned responses are exhausted it keeps returning the
// last one.
type MockClient struct {
	mu            sync.Mutex
	Requests      []*http.Request
	RequestBodies []string
	responses     []MockResponse
	idx           int
}

// NewMockClient creates a MockClient that replays the given responses.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(b)
	}
	m.RequestBodies = append(m.RequestBodies, body)

	if len(m.responses) == 0 {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	}

	r := m.responses[m.idx]
	if m.idx < len(m.responses)-1 {
		m.idx++
	}
	if r.Err != nil {
		return nil, r.Err
	}
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(r.Body))),
		Header:     make(http.Header),
	}, nil
}

// CallCount returns the number of requests the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
