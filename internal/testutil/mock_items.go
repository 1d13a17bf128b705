// Package testutil provides testing utilities for the item harvester.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines one scripted reply of the mock item server.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockItemServer is a configurable stand-in for the remote item API.
// Unscripted ids answer 200 with ItemBody(id).
type MockItemServer struct {
	server *httptest.Server

	mu       sync.Mutex
	scripts  map[int][]MockResponse
	requests map[int][]time.Time
	total    int
	inFlight int
	peak     int
}

// NewMockItemServer starts a new mock server.
func NewMockItemServer() *MockItemServer {
	m := &MockItemServer{
		scripts:  make(map[int][]MockResponse),
		requests: make(map[int][]time.Time),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base URL of the mock server.
func (m *MockItemServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockItemServer) Close() {
	m.server.Close()
}

// Script sets the replies for id, served in order. The last reply repeats.
func (m *MockItemServer) Script(id int, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[id] = responses
}

// RequestCount returns the number of requests received for id.
func (m *MockItemServer) RequestCount(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests[id])
}

// RequestTimes returns when each request for id arrived.
func (m *MockItemServer) RequestTimes(id int) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.requests[id]...)
}

// TotalRequests returns the number of requests received for all ids.
func (m *MockItemServer) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// PeakInFlight returns the highest number of requests served at once.
func (m *MockItemServer) PeakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *MockItemServer) handle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/item/"))
	if err != nil || !strings.HasPrefix(r.URL.Path, "/item/") {
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	m.requests[id] = append(m.requests[id], time.Now())
	m.total++
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	resp := NewItemResponse(id)
	if script := m.scripts[id]; len(script) > 0 {
		n := len(m.requests[id]) - 1
		if n >= len(script) {
			n = len(script) - 1
		}
		resp = script[n]
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// ItemBody returns a deterministic, well-formed item body for id.
func ItemBody(id int) string {
	return fmt.Sprintf(`{"order_id":"ORD-%05d","account_id":%d,"company":"Company %d","status":"paid","currency":"USD","subtotal":%d.50,"tax":%d.05,"total":%d.55,"created_at":"2024-01-01T00:00:00Z"}`,
		id, 1000+id, id, id, id, 2*id)
}

// ItemRow returns the CSV row expected for ItemBody(id).
func ItemRow(id int) string {
	return fmt.Sprintf(`ORD-%05d,%d,Company %d,paid,USD,%d.50,%d.05,%d.55,2024-01-01T00:00:00Z`,
		id, 1000+id, id, id, id, 2*id)
}

// NewItemResponse creates a 200 OK reply carrying ItemBody(id).
func NewItemResponse(id int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       ItemBody(id),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 reply; an empty retryAfter omits the header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 reply.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
	}
}

// NewStatusResponse creates a reply with an arbitrary status and no body.
func NewStatusResponse(status int) MockResponse {
	return MockResponse{StatusCode: status}
}

// NewSlowResponse creates a 200 reply delivered after delay.
func NewSlowResponse(id int, delay time.Duration) MockResponse {
	resp := NewItemResponse(id)
	resp.Delay = delay
	return resp
}
