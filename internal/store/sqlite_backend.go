package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/0xaae/notes-service/internal/notes"
)

// SQLiteBackend keeps the record as a single snapshot row in a local SQLite
// database. SQLite's transactional writes give the same no-torn-snapshot
// guarantee the file backend gets from atomic rename.
type SQLiteBackend struct {
	path   string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidDSN
	}
	return &SQLiteBackend{path: path, openDB: sql.Open}, nil
}

func (b *SQLiteBackend) Load() (*notes.Record, error) {
	if b == nil {
		return nil, nil
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), backendOperationLimit)
	defer cancel()

	var payload string
	err := b.db.QueryRowContext(ctx,
		"SELECT snapshot FROM "+snapshotTableName+" WHERE state_key = ?",
		snapshotKey,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord([]byte(payload))
}

func (b *SQLiteBackend) Save(rec *notes.Record) error {
	if b == nil || rec == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), backendOperationLimit)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = CURRENT_TIMESTAMP`, snapshotTableName)
	_, err = b.db.ExecContext(ctx, query, snapshotKey, string(payload))
	return err
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidDSN
	}
	b.initOnce.Do(func() {
		dir := filepath.Dir(b.path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				b.initErr = err
				return
			}
		}
		db, err := b.openDB("sqlite3", b.path)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), backendOperationLimit)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`, snapshotTableName)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}
