// Package storage stores uploaded images and hands back the reference used in
// a record's image field.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerCMS/config"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedType signals an upload that is not an accepted image format.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrForeignReference signals a reference this backend did not issue.
	ErrForeignReference = errors.New("reference not owned by this storage")
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".bmp": {},
}

// Object is one file to store.
type Object struct {
	// Dir is the resource type's upload sub directory.
	Dir string
	// Field is the form field the file arrived in; it prefixes the stored name.
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Uploader stores images and removes them again.
type Uploader interface {
	Save(ctx context.Context, obj Object) (string, error)
	Delete(ctx context.Context, ref string) error
}

// New builds the configured uploader.
func New(cfg config.UploadsConfig, logger *zap.Logger) (Uploader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.BaseURL)
	case "s3":
		return NewS3(cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown uploads driver: %s", cfg.Driver)
	}
}

// CheckImage rejects file names without an accepted image extension.
func CheckImage(filename string) error {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := imageExtensions[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return nil
}

// objectName builds "<field>-<unixms>-<rand><ext>".
func objectName(field, filename string, now time.Time) string {
	if field == "" {
		field = "file"
	}
	ext := strings.ToLower(path.Ext(filename))
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
	return fmt.Sprintf("%s-%d-%s%s", field, now.UnixMilli(), suffix, ext)
}

func cleanDir(dir string) string {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "." {
		return ""
	}
	return dir
}
