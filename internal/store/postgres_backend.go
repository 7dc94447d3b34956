package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/0xaae/notes-service/internal/notes"
)

const (
	snapshotTableName     = "notes_snapshot"
	snapshotKey           = "default"
	backendOperationLimit = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend keeps the record as a single snapshot row, upserted on
// every save. The connection and schema are initialized lazily on first use.
type PostgresBackend struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &PostgresBackend{dsn: dsn, openDB: sql.Open}, nil
}

func (b *PostgresBackend) Load() (*notes.Record, error) {
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
		"SELECT snapshot FROM "+snapshotTableName+" WHERE state_key = $1",
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

func (b *PostgresBackend) Save(rec *notes.Record) error {
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
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, snapshotTableName)
	_, err = b.db.ExecContext(ctx, query, snapshotKey, string(payload))
	return err
}

func (b *PostgresBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidDSN
	}
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
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
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
