package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/0xaae/notes-service/internal/notes"
)

var (
	// ErrCorruptStore marks a persisted record that exists but fails to
	// parse. It is surfaced to the operator instead of silently starting
	// empty, which would look like total data loss.
	ErrCorruptStore = errors.New("corrupt store")

	ErrInvalidDSN = errors.New("invalid state DSN")
)

// SnapshotBackend persists the full database record as one unit. Load returns
// (nil, nil) when nothing has been persisted yet.
type SnapshotBackend interface {
	Load() (*notes.Record, error)
	Save(rec *notes.Record) error
}

type backendCloser interface {
	Close() error
}

// CloseBackend closes backends that hold resources (database handles).
func CloseBackend(backend SnapshotBackend) error {
	if closer, ok := backend.(backendCloser); ok {
		return closer.Close()
	}
	return nil
}

func encodeRecord(rec *notes.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (*notes.Record, error) {
	var rec notes.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	if rec.Notes == nil {
		rec.Notes = map[uuid.UUID]notes.Note{}
	}
	if rec.Styles == nil {
		rec.Styles = map[uuid.UUID]notes.Style{}
	}
	return &rec, nil
}

// FileBackend stores the record as the auto-managed "notes" value: a single
// file holding the encoded record, replaced atomically on every save so a
// crash mid-write can never leave a half-written value behind.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: strings.TrimSpace(path)}
}

func (b *FileBackend) Load() (*notes.Record, error) {
	if b == nil || b.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(data)
}

func (b *FileBackend) Save(rec *notes.Record) error {
	if b == nil || b.Path == "" || rec == nil {
		return nil
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return atomic.WriteFile(b.Path, bytes.NewReader(data))
}

// MemoryBackend keeps the snapshot in memory. Used by tests and the
// "memory:" DSN.
type MemoryBackend struct {
	mu       sync.Mutex
	snapshot []byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load() (*notes.Record, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return decodeRecord(b.snapshot)
}

func (b *MemoryBackend) Save(rec *notes.Record) error {
	if b == nil || rec == nil {
		return nil
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = data
	return nil
}
