package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sifan077/PowerCMS/internal/app/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	resource   TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// sqliteStore keeps each collection as a single JSON document row.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the SQLite database at path.
func NewSQLiteStore(path string) (RecordStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir: %w", ErrStoreIO, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStoreIO, err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate sqlite: %w", ErrStoreIO, err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) LoadAll(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM collections WHERE resource = ?`, rt.Name).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []model.Record{}, nil
		}
		return nil, fmt.Errorf("%w: load %s: %w", ErrStoreIO, rt.Name, err)
	}

	var records []model.Record
	if err := json.Unmarshal([]byte(body), &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedCollection, rt.Name, err)
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

func (s *sqliteStore) SaveAll(ctx context.Context, rt model.ResourceType, records []model.Record) error {
	if records == nil {
		records = []model.Record{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStoreIO, rt.Name, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections(resource, body, updated_at) VALUES(?,?,?)
		 ON CONFLICT(resource) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		rt.Name, string(body), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStoreIO, rt.Name, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
