package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_JSONIsFlat(t *testing.T) {
	on := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rec := Record{
		ID:      "1714550400000",
		Title:   "Spring sale",
		TimeOn:  on,
		TimeOff: on.Add(48 * time.Hour),
		Fields:  map[string]string{"description": "20% off", "hyperlink": "https://example.com"},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "20% off", flat["description"])
	assert.Equal(t, "https://example.com", flat["hyperlink"])
	assert.Equal(t, "Spring sale", flat["title"])
	assert.Nil(t, flat["image"])
	assert.NotContains(t, flat, "Fields")

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.Fields, back.Fields)
	assert.True(t, back.TimeOn.Equal(on))
}

func TestRecord_ReservedFieldsCannotShadowCore(t *testing.T) {
	rec := Record{ID: "1", Title: "real", Fields: map[string]string{"title": "fake"}}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "real", back.Title)
	assert.Empty(t, back.Fields)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	img := "/uploads/banners/a.png"
	rec := Record{ID: "1", Image: &img, Fields: map[string]string{"hyperlink": "a"}}

	cp := rec.Clone()
	*cp.Image = "changed"
	cp.Fields["hyperlink"] = "b"

	assert.Equal(t, "/uploads/banners/a.png", *rec.Image)
	assert.Equal(t, "a", rec.Field("hyperlink"))
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)

	got, err := ParseTime("2024-05-01T09:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, loc), got)

	got, err = ParseTime("2038-01-19 00:00:00", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(OpenEnded))

	got, err = ParseTime("2024-05-01T01:30:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())

	_, err = ParseTime("next tuesday", loc)
	assert.Error(t, err)
}

func TestLookupResourceType(t *testing.T) {
	products, ok := LookupResourceType("products")
	require.True(t, ok)
	assert.True(t, products.HasField("description"))
	assert.False(t, products.HasField("videoLink"))

	_, ok = LookupResourceType("nope")
	assert.False(t, ok)

	assert.Len(t, ResourceTypes(), 6)
}
