// Package timezone turns a UTC capture instant plus optional GPS into the
// wall-clock time where the memory was taken.
package timezone

import (
	"fmt"
	"time"

	"github.com/bradfitz/latlong"

	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
)

// LocalTime is the resolved local context of a capture.
type LocalTime struct {
	Time   time.Time // carries the resolved location
	Zone   string    // IANA name, "UTC" on fallback
	Offset string    // always ±HH:MM
}

// Resolver maps coordinates to a zone. The zero value uses the embedded
// latlong tables.
type Resolver struct {
	// UseSystem ignores coordinates and uses the host's zone.
	UseSystem bool
	// Lookup returns an IANA zone name or "" when unknown.
	Lookup func(lat, lon float64) string
}

func (r *Resolver) lookup(lat, lon float64) string {
	if r.Lookup != nil {
		return r.Lookup(lat, lon)
	}
	return latlong.LookupZoneName(lat, lon)
}

// Resolve never fails; anything it cannot determine falls back to UTC.
func (r *Resolver) Resolve(utc time.Time, loc manifest.Location) LocalTime {
	if r.UseSystem {
		return At(utc, time.Local, time.Local.String())
	}
	if !loc.Valid {
		return At(utc, time.UTC, "UTC")
	}

	name := r.lookup(loc.Lat, loc.Lon)
	if name == "" {
		logger.Debug.Printf("No timezone for %.4f,%.4f, using UTC", loc.Lat, loc.Lon)
		return At(utc, time.UTC, "UTC")
	}

	zone, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn.Printf("Failed to load timezone %s: %v", name, err)
		return At(utc, time.UTC, "UTC")
	}
	return At(utc, zone, name)
}

// At builds a LocalTime for utc shown in zone.
func At(utc time.Time, zone *time.Location, name string) LocalTime {
	local := utc.In(zone)
	_, secs := local.Zone()
	return LocalTime{Time: local, Zone: name, Offset: FormatOffset(secs)}
}

// FormatOffset renders a UTC offset in seconds as ±HH:MM.
func FormatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}

// Stamp is the YYYYMMDD_HHMMSS form used in output filenames.
func (l LocalTime) Stamp() string {
	return l.Time.Format("20060102_150405")
}
