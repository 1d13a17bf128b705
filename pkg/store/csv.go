// Package store persists harvested records. The CSV store is the durable
// output; mirrors receive a best-effort copy of every appended record.
package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// utf8BOM is skipped when reading headers written by spreadsheet tools.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Mirror is a secondary sink fed after every durable append.
type Mirror interface {
	Name() string
	Put(ctx context.Context, id int, rec record.Record) error
	Close() error
}

// CSVOptions configures OpenCSV.
type CSVOptions struct {
	// Limit caps the number of persisted items; 0 means unlimited.
	Limit int

	// Mirrors receive each appended record after it is durable.
	Mirrors []Mirror

	// StaleLockAfter is how long an untouched lock file is honoured.
	// 0 never takes over an existing lock.
	StaleLockAfter time.Duration

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// CSVStore is an append-only CSV file with a header written exactly once,
// plus a sidecar index of the item ids it holds (<path>.ids).
//
// All appends are serialised; the success counter always equals the number
// of data rows in the file.
type CSVStore struct {
	path    string
	limit   int
	mirrors []Mirror
	logger  zerolog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	idsOut *os.File
	ids    map[int]struct{}
	count  int
	err    error
	closed bool
	lock   *lockFile
}

// OpenCSV opens (or creates) the CSV output at path and takes the writer lock.
func OpenCSV(path string, opts CSVOptions) (*CSVStore, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0 (got %d)", opts.Limit)
	}

	logger := log.With().Str("component", "csv-store").Str("path", path).Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	lock, err := acquireLock(path+".lock", opts.StaleLockAfter)
	if err != nil {
		return nil, err
	}

	s := &CSVStore{
		path:    path,
		limit:   opts.Limit,
		mirrors: opts.Mirrors,
		logger:  logger,
		lock:    lock,
	}
	if err := s.open(); err != nil {
		s.closeFiles()
		_ = lock.release()
		return nil, err
	}

	storedItems.Set(float64(s.count))
	logger.Info().
		Int("count", s.count).
		Int("limit", s.limit).
		Msg("Output store opened")
	return s, nil
}

func (s *CSVStore) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	s.file = f

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}

	ids, err := readIDs(s.path + ".ids")
	if err != nil {
		return err
	}
	s.ids = ids

	s.writer = csv.NewWriter(f)
	if fi.Size() == 0 {
		if len(ids) > 0 {
			return fmt.Errorf("%w: empty output, %d indexed ids", ErrIndexMismatch, len(ids))
		}
		if err := s.writer.Write(record.Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if err := s.flush(); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	} else {
		ends, err := scanRows(s.path)
		if err != nil {
			return err
		}
		if err := s.reconcile(ends); err != nil {
			return err
		}
	}

	s.idsOut, err = os.OpenFile(s.path+".ids", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open id index: %w", err)
	}
	return nil
}

// reconcile matches the data rows against the id index. ends[0] is the
// offset after the header and ends[i] the offset after data row i. Rows are
// written before their id, so rows past the index are a torn append and are
// cut off; fewer rows than ids means the files do not belong together.
func (s *CSVStore) reconcile(ends []int64) error {
	rows := len(ends) - 1
	switch {
	case rows == len(s.ids):
		s.count = rows
		return nil
	case rows < len(s.ids):
		return fmt.Errorf("%w: %d rows, %d indexed ids", ErrIndexMismatch, rows, len(s.ids))
	}

	keep := ends[len(s.ids)]
	// Truncate works on the O_APPEND handle; later writes land at the new end.
	if err := s.file.Truncate(keep); err != nil {
		return fmt.Errorf("truncate unindexed rows: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("truncate unindexed rows: %w", err)
	}
	s.logger.Warn().
		Int("rows", rows).
		Int("indexed_ids", len(s.ids)).
		Int("dropped", rows-len(s.ids)).
		Msg("Dropped rows missing from the id index; their items will be fetched again")
	s.count = len(s.ids)
	return nil
}

// scanRows validates the header of an existing output and returns the byte
// offset after the header followed by the offset after each data row.
func scanRows(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	defer f.Close()

	var base int64
	br := bufio.NewReader(f)
	if prefix, _ := br.Peek(len(utf8BOM)); slices.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
		base = int64(len(utf8BOM))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = len(record.Columns)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, record.Columns) {
		return nil, fmt.Errorf("%w: got %v", ErrHeaderMismatch, header)
	}

	ends := []int64{base + r.InputOffset()}
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			return ends, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read output row %d: %w", len(ends), err)
		}
		ends = append(ends, base+r.InputOffset())
	}
}

func (s *CSVStore) flush() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Append persists rec for item id and returns the new success count.
// It returns ErrDuplicate for an id already persisted and ErrTargetReached
// once Limit items are held. Any other error is a storage failure and
// makes every later Append fail too. ctx bounds the mirror writes only.
func (s *CSVStore) Append(ctx context.Context, id int, rec record.Record) (int, error) {
	start := time.Now()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		rowsRejected.WithLabelValues("closed").Inc()
		return 0, ErrClosed
	case s.err != nil:
		err := s.err
		s.mu.Unlock()
		return 0, err
	}
	if _, ok := s.ids[id]; ok {
		n := s.count
		s.mu.Unlock()
		rowsRejected.WithLabelValues("duplicate").Inc()
		return n, fmt.Errorf("item %d: %w", id, ErrDuplicate)
	}
	if s.limit > 0 && s.count >= s.limit {
		n := s.count
		s.mu.Unlock()
		rowsRejected.WithLabelValues("target").Inc()
		return n, fmt.Errorf("item %d: %w", id, ErrTargetReached)
	}

	if err := s.writeLocked(id, rec); err != nil {
		s.err = fmt.Errorf("append item %d: %w", id, err)
		err = s.err
		s.mu.Unlock()
		s.logger.Error().Err(err).Int("id", id).Msg("Storage write failed")
		return 0, err
	}
	s.ids[id] = struct{}{}
	s.count++
	n := s.count
	s.mu.Unlock()

	rowsWritten.Inc()
	storedItems.Set(float64(n))
	appendDuration.Observe(time.Since(start).Seconds())

	s.logger.Debug().Int("id", id).Int("count", n).Msg("Item persisted")
	s.mirror(ctx, id, rec)
	return n, nil
}

// writeLocked writes the row then the id, each followed by fsync.
func (s *CSVStore) writeLocked(id int, rec record.Record) error {
	if err := s.writer.Write(rec.Row()); err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		return err
	}
	if _, err := s.idsOut.WriteString(strconv.Itoa(id) + "\n"); err != nil {
		return fmt.Errorf("id index: %w", err)
	}
	if err := s.idsOut.Sync(); err != nil {
		return fmt.Errorf("id index: %w", err)
	}
	return nil
}

func (s *CSVStore) mirror(ctx context.Context, id int, rec record.Record) {
	for _, m := range s.mirrors {
		if err := m.Put(ctx, id, rec); err != nil {
			mirrorErrors.WithLabelValues(m.Name()).Inc()
			s.logger.Error().
				Err(err).
				Int("id", id).
				Str("mirror", m.Name()).
				Msg("Mirror write failed")
		}
	}
}

// Count returns the number of persisted items.
func (s *CSVStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Contains reports whether item id is already persisted.
func (s *CSVStore) Contains(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Path returns the CSV file path.
func (s *CSVStore) Path() string {
	return s.path
}

// Close flushes and closes the output, closes mirrors and releases the lock.
// It is safe to call more than once.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	errs := []error{s.closeFiles()}
	s.mu.Unlock()

	for _, m := range s.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mirror %s: %w", m.Name(), err))
		}
	}
	errs = append(errs, s.lock.release())
	return errors.Join(errs...)
}

func (s *CSVStore) closeFiles() error {
	var errs []error
	if s.file != nil {
		if s.writer != nil {
			s.writer.Flush()
			errs = append(errs, s.writer.Error())
		}
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	if s.idsOut != nil {
		errs = append(errs, s.idsOut.Close())
		s.idsOut = nil
	}
	return errors.Join(errs...)
}
