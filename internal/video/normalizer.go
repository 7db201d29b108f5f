// Package video normalizes downloaded videos: re-encoding to H.264 for
// compatibility and physically rotating landscape clips to portrait.
package video

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"memories_restore/internal/capability"
	"memories_restore/internal/logger"
	"memories_restore/internal/probe"
	"memories_restore/internal/validate"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
	defaultBitRate    = 2_000_000
	defaultTimeout    = 5 * time.Minute

	FailedDirName = "failed_conversions"
)

// ErrToolUnavailable marks a conversion path whose tool was not detected.
var ErrToolUnavailable = errors.New("tool not available")

// ConversionError carries the reasons every conversion path failed.
type ConversionError struct {
	Path     string
	Primary  error
	Fallback error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %s failed: primary: %v; fallback: %v", e.Path, e.Primary, e.Fallback)
}

func (e *ConversionError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// ConversionResult reports what EnsureH264 did.
type ConversionResult struct {
	OK      bool
	Method  string // "skipped", "goffmpeg", "vlc" or "" on failure
	Message string
	Err     error
}

// Options tunes a Normalizer. Zero values pick the defaults.
type Options struct {
	FailedDir      string // defaults to failed_conversions beside the input
	Attempts       int
	RetryDelay     time.Duration
	DefaultBitRate int64
	Timeout        time.Duration // per external invocation
}

// Normalizer owns both normalization passes.
type Normalizer struct {
	caps     capability.Record
	prober   probe.Prober
	opts     Options
	pipeline framePipeline
	sleep    func(time.Duration)
}

func New(caps capability.Record, prober probe.Prober, opts Options) *Normalizer {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.DefaultBitRate <= 0 {
		opts.DefaultBitRate = defaultBitRate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Normalizer{
		caps:     caps,
		prober:   prober,
		opts:     opts,
		pipeline: newFramePipeline(opts.Timeout),
		sleep:    time.Sleep,
	}
}

func (n *Normalizer) probeInfo(ctx context.Context, path string) *probe.Info {
	if n.prober == nil {
		return nil
	}
	info, err := n.prober.Probe(ctx, path)
	if err != nil {
		logger.Debug.Printf("Probe failed for %s: %v", path, err)
		return nil
	}
	return info
}

// checkCandidate validates a staged output and, when both files could be
// probed, that it shows the same picture size as the source.
func (n *Normalizer) checkCandidate(ctx context.Context, candidate string, want [2]int) error {
	ok, vi := validate.IsValidVideoFile(ctx, candidate, validate.VideoOptions{
		MinSize:     validate.MinVideoSize,
		MinDuration: 0.1,
		Prober:      n.prober,
	})
	if !ok {
		return fmt.Errorf("invalid output: %s", vi.Error)
	}
	if want == [2]int{} {
		return nil
	}
	out := n.probeInfo(ctx, candidate)
	if out == nil {
		return nil
	}
	w, h := out.DisplaySize()
	if [2]int{w, h} != want {
		return fmt.Errorf("output is %dx%d, expected %dx%d", w, h, want[0], want[1])
	}
	return nil
}

// RunTool runs an external binary with a timeout and folds its output into
// the returned error.
func RunTool(ctx context.Context, timeout time.Duration, bin string, args ...string) error {
	if bin == "" {
		return ErrToolUnavailable
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Debug.Printf("Running %s %s", filepath.Base(bin), strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out after %v", filepath.Base(bin), timeout)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(bin), err, lastLine(out))
	}
	return nil
}

func lastLine(out []byte) string {
	trimmed := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
