package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sifan077/PowerCMS/internal/app/model"
	"go.uber.org/zap"
)

// fileStore keeps one pretty-printed JSON array per resource type.
//
// Files:
//   - <dir>/<collection>      (current collection)
//   - <dir>/<collection>.bak  (previous collection, when backups are on)
//
// Writes go to a temp file that is renamed over the collection, so readers
// never observe a half written file.
type fileStore struct {
	dir    string
	backup bool
	logger *zap.Logger
}

// NewFileStore returns a RecordStore rooted at dir.
func NewFileStore(dir string, backup bool, logger *zap.Logger) (RecordStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage.data_dir is required for file driver")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %w", ErrStoreIO, dir, err)
	}
	return &fileStore{dir: dir, backup: backup, logger: logger}, nil
}

func (s *fileStore) path(rt model.ResourceType) string {
	name := rt.Collection
	if name == "" {
		name = rt.Name + ".json"
	}
	return filepath.Join(s.dir, name)
}

func (s *fileStore) LoadAll(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	_ = ctx
	path := s.path(rt)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Record{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreIO, path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []model.Record{}, nil
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedCollection, path, err)
	}
	return records, nil
}

func (s *fileStore) SaveAll(ctx context.Context, rt model.ResourceType, records []model.Record) error {
	_ = ctx
	if records == nil {
		records = []model.Record{}
	}
	path := s.path(rt)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStoreIO, path, err)
	}

	if s.backup {
		if err := copyFile(path, path+".bak"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			// A missing backup never blocks the write itself.
			s.logger.Warn("failed to back up collection", zap.String("path", path), zap.Error(err))
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStoreIO, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %w", ErrStoreIO, path, err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
