package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// lockFile is a cross-process single-writer lock backed by an O_EXCL file.
// A lock whose file has not been touched for staleAfter is considered
// abandoned and taken over.
type lockFile struct {
	path string
	stop chan struct{}
	once sync.Once
}

type lockOwner struct {
	PID  int   `json:"pid"`
	Time int64 `json:"time"`
}

func acquireLock(path string, staleAfter time.Duration) (*lockFile, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			owner, _ := json.Marshal(lockOwner{PID: os.Getpid(), Time: time.Now().Unix()})
			_, werr := f.Write(append(owner, '\n'))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock %s: %w", path, errors.Join(werr, cerr))
			}
			l := &lockFile{path: path, stop: make(chan struct{})}
			if staleAfter > 0 {
				go l.heartbeat(staleAfter / 3)
			}
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		fi, err := os.Stat(path)
		if err != nil {
			// released between our attempts
			continue
		}
		if staleAfter <= 0 || time.Since(fi.ModTime()) < staleAfter {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// heartbeat keeps the lock fresh so other writers do not consider it stale.
func (l *lockFile) heartbeat(every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			_ = os.Chtimes(l.path, now, now)
		}
	}
}

func (l *lockFile) release() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		if rerr := os.Remove(l.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = fmt.Errorf("remove lock %s: %w", l.path, rerr)
		}
	})
	return err
}
