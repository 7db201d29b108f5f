package files

import (
	"context"
	"fmt"
	"time"
)

// OutcomeKind tags which variant of Outcome is populated.
type OutcomeKind int

const (
	Failed OutcomeKind = iota
	Downloaded
	Merged
)

func (k OutcomeKind) String() string {
	switch k {
	case Downloaded:
		return "downloaded"
	case Merged:
		return "merged"
	default:
		return "failed"
	}
}

// Outcome is the result of one Download call. Path is set for Downloaded,
// Merged lists the finished files for Merged, and Err holds the last
// attempt's error for Failed.
type Outcome struct {
	Kind     OutcomeKind
	Path     string
	Merged   []string
	Attempts int
	Err      error
}

// OK reports whether the download produced at least one finished file.
func (o Outcome) OK() bool {
	return o.Kind != Failed
}

// Paths returns every finished file, whichever variant is populated.
func (o Outcome) Paths() []string {
	switch o.Kind {
	case Downloaded:
		return []string{o.Path}
	case Merged:
		return o.Merged
	}
	return nil
}

// HTTPStatusError is returned when the server answers with anything but 200.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Reconstitutor turns a two-part ZIP payload into finished files in
// outputDir.
type Reconstitutor interface {
	Reconstitute(ctx context.Context, zipPath, outputDir string, capture time.Time) ([]string, error)
}

// FileStorage is the output directory downloads are written into.
type FileStorage struct {
	BasePath     string
	MinFreeBytes int64 // headroom kept free on the volume, 0 disables the check
}
