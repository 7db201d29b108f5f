package archive

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/validate"
	"memories_restore/internal/video"
)

// minDurationRatio is how short a merged video may be relative to its
// source before a warning is logged.
const minDurationRatio = 0.9

// MergeImages composites overlay over main at main's size and writes the
// result to out. JPEG output is flattened onto white; other formats keep
// alpha.
func MergeImages(mainPath, overlayPath, out string) error {
	base, err := decodeImage(mainPath)
	if err != nil {
		return fmt.Errorf("failed to open main image: %w", err)
	}
	overlay, err := decodeImage(overlayPath)
	if err != nil {
		return fmt.Errorf("failed to open overlay image: %w", err)
	}

	b := base.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), base, b.Min, draw.Src)

	ob := overlay.Bounds()
	if ob.Dx() != b.Dx() || ob.Dy() != b.Dy() {
		scaled := image.NewRGBA(canvas.Bounds())
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), overlay, ob, draw.Src, nil)
		overlay = scaled
	}
	draw.Draw(canvas, canvas.Bounds(), overlay, overlay.Bounds().Min, draw.Over)

	f, err := os.Create(out)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(out)) {
	case ".jpg", ".jpeg":
		flat := image.NewRGBA(canvas.Bounds())
		draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(flat, flat.Bounds(), canvas, image.Point{}, draw.Over)
		err = jpeg.Encode(f, flat, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, canvas)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fileutil.Cleanup(out)
		return fmt.Errorf("failed to encode merged image: %w", err)
	}
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// imageOutputExt keeps the main member's extension when it can be encoded.
func imageOutputExt(mainName string) string {
	switch ext := strings.ToLower(filepath.Ext(mainName)); ext {
	case ".jpg", ".jpeg", ".png":
		return ext
	}
	return ".png"
}

// MergeVideo burns the overlay image into every frame of the main video.
// The overlay is looped so the output runs for the video's full length.
func (r *Reconstructor) MergeVideo(ctx context.Context, mainPath, overlayPath, out string) error {
	if r.ffmpeg == "" {
		return fmt.Errorf("video merge: %w", video.ErrToolUnavailable)
	}

	src := r.probeInfo(ctx, mainPath)
	filter := "[1:v][0:v]scale2ref[ovr][base];[base][ovr]overlay=0:0:shortest=1[v]"
	if src != nil && src.Width > 0 && src.Height > 0 {
		w, h := src.DisplaySize()
		filter = fmt.Sprintf("[1:v]scale=%d:%d[ovr];[0:v][ovr]overlay=0:0:shortest=1[v]", w, h)
	}

	err := video.RunTool(ctx, r.timeout, r.ffmpeg,
		"-y", "-v", "error",
		"-i", mainPath,
		"-loop", "1", "-i", overlayPath,
		"-filter_complex", filter,
		"-map", "[v]", "-map", "0:a?",
		"-c:v", "libx264", "-crf", "18", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-movflags", "+faststart",
		out,
	)
	if err != nil {
		fileutil.Cleanup(out)
		return err
	}

	if size := fileutil.Size(out); size < validate.MinVideoSize {
		fileutil.Cleanup(out)
		return fmt.Errorf("merged video too small (%d bytes)", size)
	}

	if src != nil && src.Duration > 0 {
		if merged := r.probeInfo(ctx, out); merged != nil {
			logger.Debug.Printf("Merged %s: %.2fs (source %.2fs)", filepath.Base(out), merged.Duration, src.Duration)
			if merged.Duration < src.Duration*minDurationRatio {
				logger.Warn.Printf("Merged video %s is shorter than its source: %.2fs vs %.2fs",
					filepath.Base(out), merged.Duration, src.Duration)
			}
		}
	}
	return nil
}
