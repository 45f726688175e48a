package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sifan077/PowerCMS/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploader_SaveAndDelete(t *testing.T) {
	root := t.TempDir()
	up, err := NewLocal(root, "/uploads/")
	require.NoError(t, err)

	ref, err := up.Save(context.Background(), Object{
		Dir:      "banners",
		Field:    "image",
		Filename: "Photo.PNG",
		Body:     strings.NewReader("png-bytes"),
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^/uploads/banners/image-\d+-[0-9a-f]{10}\.png$`), ref)

	onDisk := filepath.Join(root, "banners", filepath.Base(ref))
	data, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, up.Delete(context.Background(), ref))
	_, err = os.Stat(onDisk)
	assert.True(t, os.IsNotExist(err))

	// Already gone.
	require.NoError(t, up.Delete(context.Background(), ref))
}

func TestLocalUploader_RejectsNonImages(t *testing.T) {
	up, err := NewLocal(t.TempDir(), "/uploads")
	require.NoError(t, err)

	_, err = up.Save(context.Background(), Object{Dir: "videos", Filename: "run.sh", Body: strings.NewReader("x")})
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestLocalUploader_DeleteStaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "uploads")
	up, err := NewLocal(root, "/uploads")
	require.NoError(t, err)

	outside := filepath.Join(parent, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	require.NoError(t, up.Delete(context.Background(), "/uploads/../secret.txt"))
	_, err = os.Stat(outside)
	assert.NoError(t, err)

	err = up.Delete(context.Background(), "https://elsewhere/x.png")
	assert.True(t, errors.Is(err, ErrForeignReference))
}

func TestObjectName(t *testing.T) {
	now := time.UnixMilli(1717243200000)
	name := objectName("", "a.JPG", now)
	assert.True(t, strings.HasPrefix(name, "file-1717243200000-"))
	assert.True(t, strings.HasSuffix(name, ".jpg"))
}

func TestNew(t *testing.T) {
	up, err := New(config.UploadsConfig{Driver: "local", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.NotNil(t, up)

	_, err = New(config.UploadsConfig{Driver: "s3"}, nil)
	assert.Error(t, err)

	s3up, err := New(config.UploadsConfig{Driver: "s3", S3: config.S3Config{
		Bucket: "media", Region: "auto", CDNURL: "https://cdn.example.com/",
	}}, nil)
	require.NoError(t, err)
	err = s3up.Delete(context.Background(), "/uploads/x.png")
	assert.True(t, errors.Is(err, ErrForeignReference))

	_, err = New(config.UploadsConfig{Driver: "ftp"}, nil)
	assert.Error(t, err)
}
