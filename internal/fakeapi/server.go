// Package fakeapi serves deterministic items at /item/{id} with optional
// throttling and fault injection, for local runs against the harvester.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config controls the fake endpoint.
type Config struct {
	// MaxID is the highest id that exists; larger ids return 404.
	MaxID int

	// Rate is the sustained requests per second served (0 = unlimited).
	Rate float64
	// Burst is the number of requests allowed at once.
	Burst int
	// RetryAfter overrides the Retry-After sent with 429 (0 = derived from Rate).
	RetryAfter time.Duration

	// ErrorRate is the probability of answering 500.
	ErrorRate float64
	// SlowRate is the probability of delaying a response by SlowDelay.
	SlowRate  float64
	SlowDelay time.Duration
	// MissingEvery makes every n-th id return 404 (0 = none).
	MissingEvery int

	// Seed makes the fault sequence reproducible.
	Seed uint64
}

// DefaultConfig returns a well-behaved endpoint that throttles above 20 req/s.
func DefaultConfig() Config {
	return Config{
		MaxID: 10000,
		Rate:  20,
		Burst: 20,
		Seed:  1,
	}
}

// Server is the fake item API.
type Server struct {
	config  Config
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand

	served    atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64
}

// New creates a fake API server.
func New(cfg Config) *Server {
	s := &Server{
		config: cfg,
		logger: log.With().Str("component", "fake-api").Logger(),
		rnd:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return s
}

// WithLogger replaces the server logger.
func (s *Server) WithLogger(logger zerolog.Logger) *Server {
	s.logger = logger
	return s
}

// Handler returns the chi router of the fake API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	r.Get("/item/{id}", s.handleItem)
	return r
}

// Stats returns the number of items served, throttled and failed requests.
func (s *Server) Stats() (served, throttled, failed int64) {
	return s.served.Load(), s.throttled.Load(), s.failed.Load()
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if s.limiter != nil {
		res := s.limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.throttled.Add(1)
			w.Header().Set("Retry-After", s.retryAfter(delay))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			s.logger.Debug().Int("id", id).Dur("delay", delay).Msg("Request throttled")
			return
		}
	}

	fail, slow := s.roll()
	if slow {
		select {
		case <-time.After(s.config.SlowDelay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		s.failed.Add(1)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if id > s.config.MaxID || (s.config.MissingEvery > 0 && id%s.config.MissingEvery == 0) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	body, err := json.Marshal(NewItem(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode item")
		return
	}
	s.served.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// roll draws the fault decisions for one request.
func (s *Server) roll() (fail, slow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.ErrorRate > 0 {
		fail = s.rnd.Float64() < s.config.ErrorRate
	}
	if s.config.SlowRate > 0 && s.config.SlowDelay > 0 {
		slow = s.rnd.Float64() < s.config.SlowRate
	}
	return fail, slow
}

// retryAfter renders the hint in whole seconds, at least 1.
func (s *Server) retryAfter(delay time.Duration) string {
	if s.config.RetryAfter > 0 {
		delay = s.config.RetryAfter
	}
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
