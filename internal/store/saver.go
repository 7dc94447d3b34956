package store

import (
	"log"
	"sync"
	"time"

	"github.com/0xaae/notes-service/internal/notes"
)

const DefaultDebounceWindow = time.Second

// Saver debounces persistence. Mutations call MarkDirty; writes within the
// debounce window coalesce into a single backend save, bounding write
// amplification under fast typing. A failed write keeps the record dirty and
// retries on the next cycle rather than dropping user data, with the failure
// surfaced through Status until a write succeeds.
type Saver struct {
	backend  SnapshotBackend
	window   time.Duration
	snapshot func() *notes.Record
	logger   *log.Logger

	mu       sync.Mutex
	dirty    bool
	timer    *time.Timer
	closed   bool
	failures int
	lastErr  error
	saves    uint64
}

type SaverStatus struct {
	Dirty     bool   `json:"dirty"`
	Failures  int    `json:"failures"`
	LastError string `json:"lastError,omitempty"`
	Saves     uint64 `json:"saves"`
}

func NewSaver(backend SnapshotBackend, window time.Duration, snapshot func() *notes.Record, logger *log.Logger) *Saver {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Saver{
		backend:  backend,
		window:   window,
		snapshot: snapshot,
		logger:   logger,
	}
}

// MarkDirty schedules a save one debounce window from now. Calls arriving
// while a flush is already pending coalesce into it.
func (s *Saver) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.window, s.flushTimer)
}

func (s *Saver) flushTimer() {
	s.mu.Lock()
	s.timer = nil
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.Flush(); err != nil {
		s.mu.Lock()
		if !s.closed && s.timer == nil {
			s.timer = time.AfterFunc(s.window, s.flushTimer)
		}
		s.mu.Unlock()
	}
}

// Flush writes the current snapshot synchronously if there are unsaved
// changes. Used by the retry cycle and by graceful shutdown.
func (s *Saver) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	rec := s.snapshot()
	err := s.backend.Save(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.dirty = true
		s.failures++
		s.lastErr = err
		s.logger.Printf("store save failed (attempt %d): %v", s.failures, err)
		return err
	}
	s.saves++
	if s.failures > 0 {
		s.logger.Printf("store save recovered after %d failed attempts", s.failures)
	}
	s.failures = 0
	s.lastErr = nil
	return nil
}

func (s *Saver) Status() SaverStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SaverStatus{
		Dirty:    s.dirty,
		Failures: s.failures,
		Saves:    s.saves,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

// Close stops the debounce timer and performs one final synchronous flush.
func (s *Saver) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Flush()
}
