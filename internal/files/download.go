package files

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"memories_restore/internal/archive"
	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/validate"
)

const defaultTimeout = 60 * time.Second

var ErrEmptyBody = errors.New("empty response body")

// Options tunes a Downloader. Zero values pick the defaults.
type Options struct {
	Timeout           time.Duration // per attempt
	RequestsPerSecond float64       // 0 disables pacing
}

// Downloader fetches media with retries and turns ZIP payloads into
// finished files.
type Downloader struct {
	storage *FileStorage
	client  *http.Client
	limiter *rate.Limiter
	archive Reconstitutor
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDownloader creates a new downloader writing under storage.
func NewDownloader(storage *FileStorage, archive Reconstitutor, opts Options) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Downloader{
		storage: storage,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		archive: archive,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is 2^attempt seconds; the first attempt does not wait.
func backoff(attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}
	return time.Second * time.Duration(1<<uint(attempt))
}

// Download fetches url into dest, retrying up to maxRetries times. Progress
// messages are passed to progress when it is non-nil. A cancelled ctx stops
// further attempts and backoff waits, but an attempt already under way runs
// to completion so no partial file is left at dest.
func (d *Downloader) Download(ctx context.Context, url, dest string, maxRetries int, progress func(string), capture time.Time) Outcome {
	report := func(format string, args ...any) {
		if progress != nil {
			progress(fmt.Sprintf(format, args...))
		}
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if wait := backoff(attempt); wait > 0 {
			logger.LogBackoff(wait, "download "+filepath.Base(dest))
			report("Retrying in %v", wait)
			if err := d.sleep(ctx, wait); err != nil {
				return Outcome{Kind: Failed, Attempts: attempt, Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: Failed, Attempts: attempt, Err: err}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: Failed, Attempts: attempt, Err: err}
		}

		logger.LogRetryAttempt(attempt, maxRetries, "download "+filepath.Base(dest))
		report("Downloading (attempt %d/%d)", attempt+1, maxRetries)

		out, err := d.downloadOnce(context.WithoutCancel(ctx), url, dest, capture)
		if err == nil {
			out.Attempts = attempt + 1
			d.logChecksums(out)
			return out
		}
		lastErr = err
		logger.Warn.Printf("Download attempt %d failed for %s: %v", attempt+1, filepath.Base(dest), err)
		report("Attempt %d failed: %v", attempt+1, err)
	}

	report("Download failed after %d attempts", maxRetries)
	return Outcome{
		Kind:     Failed,
		Attempts: maxRetries,
		Err:      fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr),
	}
}

// downloadOnce performs a single attempt and leaves no partial files behind
// when it fails.
func (d *Downloader) downloadOnce(ctx context.Context, url, dest string, capture time.Time) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Outcome{}, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	head := make([]byte, validate.HeadSize)
	n, err := io.ReadFull(resp.Body, head)
	switch {
	case errors.Is(err, io.EOF):
		return Outcome{}, ErrEmptyBody
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}
	head = head[:n]

	if validate.IsHTML(head) {
		return Outcome{}, validate.ErrHTMLPayload
	}

	if d.storage != nil && resp.ContentLength > 0 {
		if err := d.storage.CheckDiskSpace(resp.ContentLength); err != nil {
			return Outcome{}, fmt.Errorf("disk space check failed: %w", err)
		}
	}

	tmp := fileutil.UniqueTempPath(dest)
	if err := writeStream(tmp, io.MultiReader(bytes.NewReader(head), resp.Body)); err != nil {
		fileutil.Cleanup(tmp)
		return Outcome{}, err
	}

	if validate.Classify(head) == validate.KindZIP {
		return d.unpack(ctx, tmp, dest, capture)
	}

	if err := fileutil.ReplaceFile(tmp, dest); err != nil {
		fileutil.Cleanup(tmp)
		return Outcome{}, fmt.Errorf("failed to move file to final location: %w", err)
	}
	if err := checkFinal(dest); err != nil {
		fileutil.Cleanup(dest)
		return Outcome{}, err
	}
	return Outcome{Kind: Downloaded, Path: dest}, nil
}

func writeStream(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// unpack resolves a ZIP payload staged at tmp. Merged pairs win; otherwise
// the first media member is extracted to dest; failing that the archive is
// kept beside dest with a .zip extension.
func (d *Downloader) unpack(ctx context.Context, tmp, dest string, capture time.Time) (Outcome, error) {
	defer fileutil.Cleanup(tmp)

	if d.archive != nil {
		merged, err := d.archive.Reconstitute(ctx, tmp, filepath.Dir(dest), capture)
		switch {
		case err == nil && len(merged) > 0:
			for _, p := range merged {
				if err := checkFinal(p); err != nil {
					for _, q := range merged {
						fileutil.Cleanup(q)
					}
					return Outcome{}, err
				}
			}
			logger.Info.Printf("Reconstructed %d file(s) from %s", len(merged), filepath.Base(dest))
			return Outcome{Kind: Merged, Merged: merged}, nil
		case err != nil && !errors.Is(err, archive.ErrNoPairs):
			logger.Warn.Printf("Archive reconstruction failed for %s: %v", filepath.Base(dest), err)
		}
	}

	if err := archive.ExtractFirstMedia(tmp, dest); err == nil {
		if err := checkFinal(dest); err != nil {
			fileutil.Cleanup(dest)
			return Outcome{}, err
		}
		return Outcome{Kind: Downloaded, Path: dest}, nil
	} else {
		logger.Warn.Printf("No media could be extracted from %s: %v", filepath.Base(dest), err)
	}

	kept := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".zip"
	if err := fileutil.ReplaceFile(tmp, kept); err != nil {
		return Outcome{}, fmt.Errorf("failed to keep archive: %w", err)
	}
	logger.Warn.Printf("Kept unrecognized archive as %s", filepath.Base(kept))
	return Outcome{Kind: Downloaded, Path: kept}, nil
}

func checkFinal(path string) error {
	size := fileutil.Size(path)
	if size < 0 {
		return fmt.Errorf("%s: %w", filepath.Base(path), validate.ErrNotFound)
	}
	if size < validate.MinFileSize {
		return fmt.Errorf("%s is %d bytes: %w", filepath.Base(path), size, validate.ErrTooSmall)
	}
	return nil
}

func (d *Downloader) logChecksums(out Outcome) {
	if logger.Level() < logger.LevelDebug {
		return
	}
	for _, p := range out.Paths() {
		sum, err := CalculateChecksum(p)
		if err != nil {
			logger.Debug.Printf("Checksum unavailable for %s: %v", p, err)
			continue
		}
		logger.Debug.Printf("Stored %s (sha256 %s)", filepath.Base(p), sum)
	}
}

// CalculateChecksum generates a SHA-256 checksum for a file
func CalculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
