package harvest

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Summary reports the outcome of a run.
type Summary struct {
	RunID string

	// Requested is the size of the id range.
	Requested int
	// Dispatched is how many ids were handed to a worker.
	Dispatched int
	// Resumed is how many items the sink held before the run.
	Resumed int
	// Persisted is how many items this run appended.
	Persisted int
	// Total is the sink count at the end of the run.
	Total int
	// Discarded counts successful fetches the sink rejected.
	Discarded int
	// Failures counts skipped ids by failure kind.
	Failures map[string]int

	Duration time.Duration
}

// Failed returns the number of skipped ids.
func (s Summary) Failed() int {
	n := 0
	for _, c := range s.Failures {
		n += c
	}
	return n
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", s.RunID).
		Int("requested", s.Requested).
		Int("dispatched", s.Dispatched).
		Int("resumed", s.Resumed).
		Int("persisted", s.Persisted).
		Int("total", s.Total).
		Int("discarded", s.Discarded).
		Int("failed", s.Failed()).
		Dur("duration", s.Duration)

	if len(s.Failures) == 0 {
		return
	}
	reasons := make([]string, 0, len(s.Failures))
	for r := range s.Failures {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	failures := zerolog.Dict()
	for _, r := range reasons {
		failures.Int(r, s.Failures[r])
	}
	e.Dict("failures", failures)
}
