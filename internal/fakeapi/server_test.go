package fakeapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/record"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg).WithLogger(zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestNewItem_Deterministic(t *testing.T) {
	a, _ := json.Marshal(NewItem(42))
	b, _ := json.Marshal(NewItem(42))
	if string(a) != string(b) {
		t.Errorf("NewItem(42) not deterministic: %s vs %s", a, b)
	}
	c, _ := json.Marshal(NewItem(43))
	if string(a) == string(c) {
		t.Error("different ids produced the same item")
	}
}

func TestNewItem_ParsesAsRecord(t *testing.T) {
	for _, id := range []int{1, 3, 99, 1000} {
		body, err := json.Marshal(NewItem(id))
		if err != nil {
			t.Fatal(err)
		}
		rec, err := record.Parse(body)
		if err != nil {
			t.Fatalf("record.Parse(item %d) error = %v", id, err)
		}
		if got := rec.OrderID.String(); got != NewItem(id).OrderID {
			t.Errorf("OrderID = %q", got)
		}
		item := NewItem(id)
		if rec.Total.String() != string(item.Total) {
			t.Errorf("Total = %q, want %q", rec.Total.String(), item.Total)
		}
	}
}

func TestHandler_ServesItems(t *testing.T) {
	srv := newTestServer(t, Config{MaxID: 100})

	resp, body := get(t, srv.URL+"/item/7")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	want, _ := json.Marshal(NewItem(7))
	if string(body) != string(want) {
		t.Errorf("body = %s, want %s", body, want)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandler_NotFound(t *testing.T) {
	srv := newTestServer(t, Config{MaxID: 100, MissingEvery: 10})

	tests := []struct {
		path string
		want int
	}{
		{"/item/101", http.StatusNotFound},
		{"/item/20", http.StatusNotFound},
		{"/item/21", http.StatusOK},
		{"/item/abc", http.StatusBadRequest},
		{"/item/0", http.StatusBadRequest},
		{"/items", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if resp, _ := get(t, srv.URL+tt.path); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandler_Throttles(t *testing.T) {
	srv := newTestServer(t, Config{MaxID: 100, Rate: 1, Burst: 2})

	statuses := make([]int, 0, 4)
	var retryAfter string
	for id := 1; id <= 4; id++ {
		resp, _ := get(t, srv.URL+"/item/"+strconv.Itoa(id))
		statuses = append(statuses, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = resp.Header.Get("Retry-After")
		}
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("burst statuses = %v, want first two 200", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want 429 after burst", statuses)
	}
	if n, err := strconv.Atoi(retryAfter); err != nil || n < 1 {
		t.Errorf("Retry-After = %q, want whole seconds >= 1", retryAfter)
	}
}

func TestHandler_RetryAfterOverride(t *testing.T) {
	srv := newTestServer(t, Config{MaxID: 100, Rate: 0.1, Burst: 1, RetryAfter: 3 * time.Second})

	get(t, srv.URL+"/item/1")
	resp, _ := get(t, srv.URL+"/item/2")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}
}

func TestHandler_InjectsErrors(t *testing.T) {
	s := New(Config{MaxID: 100, ErrorRate: 1}).WithLogger(zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for id := 1; id <= 3; id++ {
		if resp, _ := get(t, srv.URL+"/item/"+strconv.Itoa(id)); resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.StatusCode)
		}
	}
	if served, _, failed := s.Stats(); served != 0 || failed != 3 {
		t.Errorf("Stats() = served %d failed %d", served, failed)
	}
}

func TestHandler_SlowResponses(t *testing.T) {
	srv := newTestServer(t, Config{MaxID: 100, SlowRate: 1, SlowDelay: 100 * time.Millisecond})

	start := time.Now()
	if resp, _ := get(t, srv.URL+"/item/1"); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("response was not delayed")
	}
}

func TestHandler_SeedReproducible(t *testing.T) {
	draw := func() []bool {
		s := New(Config{MaxID: 100, ErrorRate: 0.5, Seed: 7})
		out := make([]bool, 20)
		for i := range out {
			out[i], _ = s.roll()
		}
		return out
	}
	a, b := draw(), draw()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("fault sequence differs at %d", i)
		}
	}
}

func TestHandler_Health(t *testing.T) {
	srv := newTestServer(t, DefaultConfig())
	if resp, body := get(t, srv.URL+"/health"); resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}
