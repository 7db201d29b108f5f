// Package manifest reads the "Saved Media" export listing.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02 15:04:05 UTC"

var (
	ErrInvalidDate = errors.New("invalid capture date")
	ErrMissingURL  = errors.New("missing download url")
)

type MediaType string

const (
	MediaImage   MediaType = "Image"
	MediaVideo   MediaType = "Video"
	MediaUnknown MediaType = "Unknown"
)

// Extension returns the destination extension for a media type.
func (m MediaType) Extension() string {
	switch m {
	case MediaImage:
		return ".jpg"
	case MediaVideo:
		return ".mp4"
	default:
		return ".bin"
	}
}

// Entry is one raw element of the "Saved Media" array.
type Entry struct {
	Date        string `json:"Date"`
	MediaType   string `json:"Media Type"`
	Location    string `json:"Location"`
	DownloadURL string `json:"Media Download Url"`
}

type document struct {
	SavedMedia []Entry `json:"Saved Media"`
}

// Location is a latitude/longitude pair; both are set or neither.
type Location struct {
	Lat   float64
	Lon   float64
	Valid bool
}

// MediaItem is a parsed, immutable manifest entry.
type MediaItem struct {
	CaptureUTC   time.Time
	MediaType    MediaType
	LocationText string
	DownloadURL  string
}

// Location parses the item's raw location text.
func (m MediaItem) Location() Location {
	return ParseLocation(m.LocationText)
}

// Load reads every entry from the manifest at path. Entries are returned
// raw so that one malformed date does not reject the whole file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return doc.SavedMedia, nil
}

// ParseItem validates a raw entry. A missing URL yields ErrMissingURL with
// the rest of the item still populated.
func ParseItem(e Entry) (MediaItem, error) {
	item := MediaItem{
		MediaType:    parseMediaType(e.MediaType),
		LocationText: e.Location,
		DownloadURL:  strings.TrimSpace(e.DownloadURL),
	}

	t, err := ParseDate(e.Date)
	if err != nil {
		return item, err
	}
	item.CaptureUTC = t

	if item.DownloadURL == "" {
		return item, ErrMissingURL
	}
	return item, nil
}

// ParseDate reads "YYYY-MM-DD HH:MM:SS UTC" as a UTC instant.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, s, err)
	}
	return t, nil
}

// ParseLocation reads text such as "Latitude, Longitude: 40.7128, -74.0060".
// "N/A", empty text and anything unparseable yield an invalid Location.
func ParseLocation(text string) Location {
	text = strings.TrimSpace(text)
	if text == "" || text == "N/A" {
		return Location{}
	}

	_, coords, ok := strings.Cut(text, ": ")
	if !ok {
		return Location{}
	}
	latText, lonText, ok := strings.Cut(coords, ", ")
	if !ok {
		return Location{}
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return Location{}
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if err != nil {
		return Location{}
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Location{}
	}
	return Location{Lat: lat, Lon: lon, Valid: true}
}

func parseMediaType(s string) MediaType {
	switch strings.TrimSpace(s) {
	case "Image":
		return MediaImage
	case "Video":
		return MediaVideo
	default:
		return MediaUnknown
	}
}
