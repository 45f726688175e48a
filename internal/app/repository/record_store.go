package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sifan077/PowerCMS/config"
	"github.com/sifan077/PowerCMS/internal/app/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound signals that the requested record does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrMalformedCollection signals a persisted collection that could not be decoded.
	ErrMalformedCollection = errors.New("malformed collection")
	// ErrStoreIO signals a failed read or write of the backing store.
	ErrStoreIO = errors.New("record store i/o failed")
)

// RecordStore is the durable collection of records for each resource type.
// Collections are loaded and saved whole; a missing collection loads as empty.
type RecordStore interface {
	LoadAll(ctx context.Context, rt model.ResourceType) ([]model.Record, error)
	SaveAll(ctx context.Context, rt model.ResourceType, records []model.Record) error
	Close() error
}

// Open initializes the configured record store. db is only used by the
// postgres driver and may be nil otherwise.
func Open(cfg config.StorageConfig, db *gorm.DB, logger *zap.Logger) (RecordStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return NewFileStore(cfg.DataDir, cfg.Backup, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres record store requires a database connection")
		}
		return NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
