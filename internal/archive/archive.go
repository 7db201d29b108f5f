// Package archive rebuilds finished memories from the two-part ZIP payloads
// the export service returns for captioned snaps: a "-main" photo or video
// and a "-overlay" image are composited into one file.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"memories_restore/internal/capability"
	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/probe"
)

var (
	ErrNoPairs = errors.New("no main/overlay pairs in archive")
	ErrNoMedia = errors.New("no media member in archive")
)

// mediaExts are the member extensions ExtractFirstMedia accepts by name.
var mediaExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".heic": true,
}

// Portraiter is the orientation pass applied to merged videos.
type Portraiter interface {
	EnsurePortrait(ctx context.Context, path string) (bool, string)
}

type Reconstructor struct {
	ffmpeg   string
	prober   probe.Prober
	portrait Portraiter
	timeout  time.Duration
	now      func() time.Time
}

func NewReconstructor(caps capability.Record, prober probe.Prober, portrait Portraiter, timeout time.Duration) *Reconstructor {
	return &Reconstructor{
		ffmpeg:   caps.FFmpeg,
		prober:   prober,
		portrait: portrait,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (r *Reconstructor) probeInfo(ctx context.Context, path string) *probe.Info {
	if r.prober == nil {
		return nil
	}
	info, err := r.prober.Probe(ctx, path)
	if err != nil {
		logger.Debug.Printf("Probe failed for %s: %v", path, err)
		return nil
	}
	return info
}

// Reconstitute merges every complete pair in zipPath and moves the results
// into outputDir as <YYYYMMDD_HHMMSS><ext>. The stamp comes from capture,
// else the main member's modification time, else the current time. An empty
// result means nothing could be merged.
func (r *Reconstructor) Reconstitute(ctx context.Context, zipPath, outputDir string, capture time.Time) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	pairs := PairMembers(names)

	complete := 0
	for _, p := range pairs {
		if p.Complete() {
			complete++
		}
	}
	if complete == 0 {
		return nil, ErrNoPairs
	}

	// Scratch lives under outputDir so results can be renamed into place.
	scratch, err := os.MkdirTemp(outputDir, ".zip_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Debug.Printf("Could not clean up %s: %v", scratch, err)
		}
	}()

	if err := extractAll(&zr.Reader, scratch); err != nil {
		return nil, err
	}

	var finished []string
	for _, p := range pairs {
		if !p.Complete() {
			logger.Debug.Printf("Skipping incomplete pair %q in %s", p.Base, filepath.Base(zipPath))
			continue
		}
		path, err := r.mergePair(ctx, p, scratch, outputDir, capture)
		if err != nil {
			logger.Warn.Printf("Failed to merge %q: %v", p.Base, err)
			continue
		}
		finished = append(finished, path)
	}
	return finished, nil
}

func (r *Reconstructor) mergePair(ctx context.Context, p Pair, scratch, outputDir string, capture time.Time) (string, error) {
	mainPath := filepath.Join(scratch, filepath.FromSlash(p.Main))
	overlayPath := filepath.Join(scratch, filepath.FromSlash(p.Overlay))
	mainName := filepath.Base(mainPath)

	var ext string
	if p.IsVideo() {
		ext = ".mp4"
	} else {
		ext = imageOutputExt(mainName)
	}
	merged := filepath.Join(scratch, strings.TrimSuffix(mergedName(mainName), filepath.Ext(mainName))+ext)

	if p.IsVideo() {
		if err := r.MergeVideo(ctx, mainPath, overlayPath, merged); err != nil {
			return "", err
		}
		if r.portrait != nil {
			ok, msg := r.portrait.EnsurePortrait(ctx, merged)
			if ok {
				logger.Info.Printf("Orientation of merged %s: %s", p.Base, msg)
			} else {
				logger.Warn.Printf("Orientation pass failed for merged %s: %s", p.Base, msg)
			}
		}
	} else if err := MergeImages(mainPath, overlayPath, merged); err != nil {
		return "", err
	}

	stamp := r.stampFor(capture, mainPath)
	final, err := fileutil.ClaimName(outputDir, stamp.Format("20060102_150405"), ext)
	if err != nil {
		return "", err
	}
	if err := fileutil.ReplaceFile(merged, final); err != nil {
		fileutil.Cleanup(final)
		return "", err
	}

	fileutil.Cleanup(mainPath)
	fileutil.Cleanup(overlayPath)
	if stray := filepath.Join(outputDir, mainName); fileutil.Exists(stray) {
		logger.Debug.Printf("Removing stray main member %s", stray)
		fileutil.Cleanup(stray)
	}

	logger.Info.Printf("Merged %s into %s", p.Base, filepath.Base(final))
	return final, nil
}

func (r *Reconstructor) stampFor(capture time.Time, mainPath string) time.Time {
	if !capture.IsZero() {
		return capture
	}
	if info, err := os.Stat(mainPath); err == nil {
		return info.ModTime()
	}
	return r.now()
}

func mergedName(mainName string) string {
	i := strings.LastIndex(strings.ToLower(mainName), "-main")
	if i < 0 {
		return mainName
	}
	return mainName[:i] + "-merged" + mainName[i+len("-main"):]
}

// ExtractFirstMedia copies the first member that is a photo or video into
// dest. Members are recognized by extension, or by content when the name
// gives nothing away.
func ExtractFirstMedia(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	var pick *zip.File
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && mediaExts[strings.ToLower(filepath.Ext(f.Name))] {
			pick = f
			break
		}
	}
	if pick == nil {
		for _, f := range zr.File {
			if !f.FileInfo().IsDir() && sniffMedia(f) {
				pick = f
				break
			}
		}
	}
	if pick == nil {
		return ErrNoMedia
	}

	logger.Info.Printf("Extracting %s from %s", pick.Name, filepath.Base(zipPath))
	tmp := fileutil.UniqueTempPath(dest)
	if err := extractFile(pick, tmp); err != nil {
		fileutil.Cleanup(tmp)
		return err
	}
	if err := fileutil.ReplaceFile(tmp, dest); err != nil {
		fileutil.Cleanup(tmp)
		return err
	}
	return nil
}

func sniffMedia(f *zip.File) bool {
	rc, err := f.Open()
	if err != nil {
		return false
	}
	defer rc.Close()

	mtype, err := mimetype.DetectReader(rc)
	if err != nil {
		return false
	}
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") || strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

func extractAll(zr *zip.Reader, dir string) error {
	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive member %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open member %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	// Members written without a timestamp read back as the DOS epoch.
	if f.Modified.Year() > 1980 {
		os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}
