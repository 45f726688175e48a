package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sifan077/PowerCMS/config"
	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/stretchr/testify/require"
)

func testType(t *testing.T) model.ResourceType {
	t.Helper()
	rt, ok := model.LookupResourceType("announcements")
	require.True(t, ok)
	return rt
}

func sampleRecords() []model.Record {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []model.Record{
		{
			ID:        "1714557600000",
			Title:     "first",
			TimeOn:    now,
			TimeOff:   model.OpenEnded,
			CreatedAt: now,
			EditTime:  now,
			Fields:    map[string]string{"context": "hello"},
		},
		{
			ID:         "1714557600001",
			Title:      "second",
			TimeOn:     now,
			TimeOff:    now.Add(time.Hour),
			Enable:     true,
			AutoEnable: true,
			CreatedAt:  now,
			EditTime:   now,
		},
	}
}

func TestFileStore_MissingCollectionIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), true, nil)
	require.NoError(t, err)

	records, err := store.LoadAll(context.Background(), testType(t))
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, false, nil)
	require.NoError(t, err)
	rt := testType(t)

	require.NoError(t, store.SaveAll(context.Background(), rt, sampleRecords()))
	_, err = os.Stat(filepath.Join(dir, "businessNews.json"))
	require.NoError(t, err)

	got, err := store.LoadAll(context.Background(), rt)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "first", got[0].Title)
	require.Equal(t, "hello", got[0].Field("context"))
	require.True(t, got[1].Enable)
	require.True(t, got[1].TimeOff.Equal(sampleRecords()[1].TimeOff))
}

func TestFileStore_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "businessNews.json"), []byte("{not json"), 0o644))

	store, err := NewFileStore(dir, false, nil)
	require.NoError(t, err)

	_, err = store.LoadAll(context.Background(), testType(t))
	require.True(t, errors.Is(err, ErrMalformedCollection), "got %v", err)
}

func TestFileStore_KeepsBackupOfPreviousCollection(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, true, nil)
	require.NoError(t, err)
	rt := testType(t)
	ctx := context.Background()

	records := sampleRecords()
	require.NoError(t, store.SaveAll(ctx, rt, records[:1]))
	require.NoError(t, store.SaveAll(ctx, rt, records))

	data, err := os.ReadFile(filepath.Join(dir, "businessNews.json.bak"))
	require.NoError(t, err)
	require.Contains(t, string(data), "first")
	require.NotContains(t, string(data), "second")

	_, err = os.Stat(filepath.Join(dir, "businessNews.json.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer store.Close()
	rt := testType(t)
	ctx := context.Background()

	empty, err := store.LoadAll(ctx, rt)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, store.SaveAll(ctx, rt, sampleRecords()))
	require.NoError(t, store.SaveAll(ctx, rt, sampleRecords()[1:]))

	got, err := store.LoadAll(ctx, rt)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "second", got[0].Title)

	other, _ := model.LookupResourceType("banners")
	none, err := store.LoadAll(ctx, other)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(configFor("mongo", t.TempDir()), nil, nil)
	require.Error(t, err)

	_, err = Open(configFor("postgres", t.TempDir()), nil, nil)
	require.Error(t, err)

	store, err := Open(configFor("file", t.TempDir()), nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func configFor(driver, dir string) config.StorageConfig {
	return config.StorageConfig{
		Driver:  driver,
		DataDir: dir,
		Path:    filepath.Join(dir, "content.db"),
	}
}

func TestFileStore_LoadsLegacyTimestamps(t *testing.T) {
	dir := t.TempDir()
	legacy := `[
  {
    "id": "1714557600000",
    "title": "old product",
    "description": "kept",
    "image": null,
    "timeOn": "2024-05-01T10:00",
    "timeOff": "2038-01-19 00:00:00",
    "enable": false,
    "autoEnable": false,
    "priority": 0,
    "editTime": "2024-05-01T02:00:00.000Z"
  },
  {
    "id": "1714557600001",
    "title": "no end",
    "timeOn": "2024-05-01 10:00:00",
    "timeOff": ""
  }
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.json"), []byte(legacy), 0o644))

	store, err := NewFileStore(dir, false, nil)
	require.NoError(t, err)
	rt, ok := model.LookupResourceType("products")
	require.True(t, ok)

	got, err := store.LoadAll(context.Background(), rt)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].TimeOn.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)))
	require.True(t, got[0].TimeOff.Equal(time.Date(2038, 1, 19, 0, 0, 0, 0, time.Local)))
	require.True(t, got[0].EditTime.Equal(time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)))
	require.Equal(t, "kept", got[0].Field("description"))
	require.True(t, got[1].TimeOff.Equal(model.OpenEnded))

	require.NoError(t, store.SaveAll(context.Background(), rt, got))
	raw, err := os.ReadFile(filepath.Join(dir, "products.json"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "2038-01-19 00:00:00")
	require.Contains(t, string(raw), `"timeOff": "2038-01-19T00:00:00`)
}
