package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type localUploader struct {
	root    string
	baseURL string
}

// NewLocal stores files under root and references them as baseURL/<dir>/<name>.
func NewLocal(root, baseURL string) (Uploader, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("uploads.dir is required for local driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &localUploader{root: root, baseURL: baseURL}, nil
}

func (u *localUploader) Save(_ context.Context, obj Object) (string, error) {
	if err := CheckImage(obj.Filename); err != nil {
		return "", err
	}
	dir := cleanDir(obj.Dir)
	name := objectName(obj.Field, obj.Filename, time.Now())

	target := filepath.Join(u.root, filepath.FromSlash(dir))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	full := filepath.Join(target, name)
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, obj.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	return u.baseURL + "/" + path.Join(dir, name), nil
}

// Delete removes the file behind ref. A file that is already gone is not an error.
func (u *localUploader) Delete(_ context.Context, ref string) error {
	rel, ok := strings.CutPrefix(ref, u.baseURL+"/")
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignReference, ref)
	}
	rel = cleanDir(rel)
	if rel == "" {
		return fmt.Errorf("%w: %s", ErrForeignReference, ref)
	}

	err := os.Remove(filepath.Join(u.root, filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete upload file: %w", err)
	}
	return nil
}
