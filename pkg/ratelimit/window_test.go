package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T, calls int, window time.Duration) *WindowLimiter {
	t.Helper()
	l, err := NewWindowLimiter(calls, window, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWindowLimiter() error = %v", err)
	}
	return l
}

func TestNewWindowLimiter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		calls   int
		window  time.Duration
		wantErr bool
	}{
		{name: "valid", calls: 18, window: time.Second},
		{name: "zero calls", calls: 0, window: time.Second, wantErr: true},
		{name: "negative calls", calls: -1, window: time.Second, wantErr: true},
		{name: "zero window", calls: 5, window: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindowLimiter(tt.calls, tt.window, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWindowLimiter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAcquire_BurstUpToCallsIsImmediate(t *testing.T) {
	l := newTestLimiter(t, 5, time.Hour)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first %d permits took %v, want immediate", 5, elapsed)
	}
}

func TestAcquire_BlocksWhenWindowFull(t *testing.T) {
	l := newTestLimiter(t, 2, 150*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("third permit granted after %v, want >= window", elapsed)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := newTestLimiter(t, 1, time.Hour)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
}

// Under heavy concurrent demand no window of length W may contain more than
// R grants: the i-th and (i+R)-th grants must be at least W apart.
func TestAcquire_CeilingUnderConcurrentLoad(t *testing.T) {
	const (
		calls   = 4
		window  = 60 * time.Millisecond
		workers = 16
		perWork = 2
	)
	l := newTestLimiter(t, calls, window)

	var mu sync.Mutex
	var grants []time.Time
	l.onGrant = func(at time.Time) {
		mu.Lock()
		grants = append(grants, at)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWork; i++ {
				if err := l.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(grants) != workers*perWork {
		t.Fatalf("granted %d permits, want %d", len(grants), workers*perWork)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := 0; i+calls < len(grants); i++ {
		if gap := grants[i+calls].Sub(grants[i]); gap < window {
			t.Fatalf("grants %d and %d only %v apart, want >= %v", i, i+calls, gap, window)
		}
	}
}

func TestAccessors(t *testing.T) {
	l := newTestLimiter(t, 18, time.Second)
	if l.Calls() != 18 {
		t.Errorf("Calls() = %d, want 18", l.Calls())
	}
	if l.Window() != time.Second {
		t.Errorf("Window() = %v, want 1s", l.Window())
	}
}
