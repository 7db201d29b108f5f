package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Location
	}{
		{"standard", "Latitude, Longitude: 40.7128, -74.0060", Location{Lat: 40.7128, Lon: -74.006, Valid: true}},
		{"sentinel", "N/A", Location{}},
		{"empty", "", Location{}},
		{"no separator", "40.7128, -74.0060", Location{}},
		{"garbage", "Latitude, Longitude: abc, def", Location{}},
		{"out of range", "Latitude, Longitude: 140.0, 10.0", Location{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLocation(tt.text))
		})
	}
}

func TestParseItem(t *testing.T) {
	item, err := ParseItem(Entry{
		Date:        "2023-06-15 14:30:45 UTC",
		MediaType:   "Image",
		Location:    "Latitude, Longitude: 40.7128, -74.0060",
		DownloadURL: "https://example.com/a",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 15, 14, 30, 45, 0, time.UTC), item.CaptureUTC)
	assert.Equal(t, MediaImage, item.MediaType)
	assert.Equal(t, ".jpg", item.MediaType.Extension())
	assert.True(t, item.Location().Valid)

	_, err = ParseItem(Entry{Date: "2023-06-15 14:30:45 UTC", MediaType: "Video"})
	assert.ErrorIs(t, err, ErrMissingURL)

	_, err = ParseItem(Entry{Date: "15/06/2023", DownloadURL: "https://example.com/a"})
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".mp4", MediaVideo.Extension())
	assert.Equal(t, ".bin", parseMediaType("Sticker").Extension())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories_history.json")
	body := `{"Saved Media":[
		{"Date":"2023-06-15 14:30:45 UTC","Media Type":"Image","Location":"N/A","Media Download Url":"https://example.com/1"},
		{"Date":"2023-06-16 09:00:00 UTC","Media Type":"Video","Location":"N/A","Media Download Url":""}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Video", entries[1].MediaType)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
