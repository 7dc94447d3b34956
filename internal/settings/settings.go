// Package settings stores configuration as one file per key, each holding a
// single scalar value. A missing or malformed key independently falls back to
// its documented default, so one bad value never blocks the others.
package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const (
	KeyServiceBin         = "service_bin"
	KeyImportFile         = "import_file"
	KeyRestoreNotesWidth  = "restore_notes_width"
	KeyRestoreNotesHeight = "restore_notes_height"
	KeyEditStyleWidth     = "edit_style_width"
	KeyEditStyleHeight    = "edit_style_height"
	KeyAboutWidth         = "about_width"
	KeyAboutHeight        = "about_height"
	KeyNoteMinWidth       = "note_min_width"
	KeyNoteMinHeight      = "note_min_height"
	KeyToolbarIconSize    = "toolbar_icon_size"

	// KeyNotes holds the encoded database record. It is auto-managed by
	// the durable store, never hand-authored, and not covered by the
	// scalar accessors below.
	KeyNotes = "notes"

	defaultServiceBin     = "/usr/local/bin/notes-service"
	defaultImportFileName = ".config/indicator-stickynotes"
)

var intDefaults = map[string]int{
	KeyRestoreNotesWidth:  480,
	KeyRestoreNotesHeight: 400,
	KeyEditStyleWidth:     480,
	KeyEditStyleHeight:    800,
	KeyAboutWidth:         480,
	KeyAboutHeight:        840,
	KeyNoteMinWidth:       64,
	KeyNoteMinHeight:      64,
	KeyToolbarIconSize:    16,
}

// Store reads and writes per-key setting files under a single directory.
type Store struct {
	dir string
}

func Open(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("settings directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// DefaultDir resolves the per-user settings directory.
func DefaultDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "notes-service")
	}
	return filepath.Join(os.TempDir(), "notes-service")
}

func (s *Store) Dir() string {
	return s.dir
}

// NotesPath is the file holding the auto-managed encoded record.
func (s *Store) NotesPath() string {
	return filepath.Join(s.dir, KeyNotes)
}

func (s *Store) keyPath(key string) string {
	return filepath.Join(s.dir, key)
}

// String returns the value of a string-typed key, or its default when the
// key file is absent or unparseable.
func (s *Store) String(key string) string {
	fallback := stringDefault(key)
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		return fallback
	}
	var value string
	if err := yaml.Unmarshal(data, &value); err != nil {
		return fallback
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

// Int returns the value of an integer-typed key, or its default when the key
// file is absent or unparseable.
func (s *Store) Int(key string) int {
	fallback := intDefaults[key]
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		return fallback
	}
	var value int
	if err := yaml.Unmarshal(data, &value); err != nil {
		return fallback
	}
	return value
}

// Set writes one key atomically.
func (s *Store) Set(key string, value any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.keyPath(key), bytes.NewReader(data))
}

// Delete removes a key file, reverting the key to its default.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// All resolves every known scalar key to its effective value.
func (s *Store) All() map[string]any {
	out := map[string]any{
		KeyServiceBin: s.String(KeyServiceBin),
		KeyImportFile: s.String(KeyImportFile),
	}
	for key := range intDefaults {
		out[key] = s.Int(key)
	}
	return out
}

// Keys lists every known scalar key in stable order.
func Keys() []string {
	keys := []string{KeyServiceBin, KeyImportFile}
	for key := range intDefaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func stringDefault(key string) string {
	switch key {
	case KeyServiceBin:
		return defaultServiceBin
	case KeyImportFile:
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, defaultImportFileName)
		}
		return defaultImportFileName
	default:
		return ""
	}
}
