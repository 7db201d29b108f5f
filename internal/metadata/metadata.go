// Package metadata embeds capture time and location into downloaded files:
// EXIF for JPEG photos, container tags for MP4 videos, and the filesystem
// timestamps for everything.
package metadata

import (
	"math"
	"os"
	"time"

	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
	"memories_restore/internal/timezone"
)

// Capture is what every writer embeds.
type Capture struct {
	Local  time.Time // wall clock in the capture zone
	Offset string    // ±HH:MM, empty when unknown
	Lat    float64
	Lon    float64
	HasGPS bool
}

// NewCapture combines a resolved local time with an optional location.
func NewCapture(lt timezone.LocalTime, loc manifest.Location) Capture {
	return Capture{
		Local:  lt.Time,
		Offset: lt.Offset,
		Lat:    loc.Lat,
		Lon:    loc.Lon,
		HasGPS: loc.Valid,
	}
}

// DMS splits decimal degrees into whole degrees, whole minutes and seconds
// in hundredths, the layout EXIF rationals expect. The sign is dropped.
func DMS(decimal float64) (deg, mins, centisec uint32) {
	decimal = math.Abs(decimal)
	d := math.Floor(decimal)
	m := math.Floor((decimal - d) * 60)
	s := ((decimal-d)*60 - m) * 60
	return uint32(d), uint32(m), uint32(s * 100)
}

// SetFileTimestamps sets access and modification time to t.
func SetFileTimestamps(path string, t time.Time) {
	if err := os.Chtimes(path, t, t); err != nil {
		logger.Debug.Printf("Failed to set timestamps for %s: %v", path, err)
	}
}
