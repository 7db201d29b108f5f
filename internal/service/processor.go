package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"memories_restore/internal/files"
	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
	"memories_restore/internal/metadata"
	"memories_restore/internal/timezone"
	"memories_restore/internal/validate"
	"memories_restore/internal/video"
)

// Status is the terminal state of one manifest item.
type Status int

const (
	StatusSuccess Status = iota
	StatusSkipped
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

// ItemResult is what processing one manifest entry produced.
type ItemResult struct {
	Index   int // 1-based manifest position
	Status  Status
	Paths   []string
	Message string
	Err     error
}

// Fetcher downloads one item.
type Fetcher interface {
	Download(ctx context.Context, url, dest string, maxRetries int, progress func(string), capture time.Time) files.Outcome
}

// VideoNormalizer is the codec and orientation pass for videos.
type VideoNormalizer interface {
	EnsureH264(ctx context.Context, path string) video.ConversionResult
	EnsurePortrait(ctx context.Context, path string) (bool, string)
}

// ImageTagger embeds capture data into photos.
type ImageTagger interface {
	Write(path string, c metadata.Capture) (bool, error)
}

// VideoTagger embeds capture data into videos.
type VideoTagger interface {
	Apply(ctx context.Context, path string, c metadata.Capture) (string, error)
}

// ProcessorOptions are the per-item switches.
type ProcessorOptions struct {
	MaxRetries      int
	Resume          bool
	ConvertH264     bool
	EnforcePortrait bool
}

// ItemProcessor runs the whole pipeline for a single manifest entry on the
// calling goroutine.
type ItemProcessor struct {
	storage    *files.FileStorage
	fetcher    Fetcher
	resolver   *timezone.Resolver
	normalizer VideoNormalizer
	images     ImageTagger
	videos     VideoTagger
	opts       ProcessorOptions
}

func NewItemProcessor(storage *files.FileStorage, fetcher Fetcher, resolver *timezone.Resolver,
	normalizer VideoNormalizer, images ImageTagger, videos VideoTagger, opts ProcessorOptions) *ItemProcessor {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &ItemProcessor{
		storage:    storage,
		fetcher:    fetcher,
		resolver:   resolver,
		normalizer: normalizer,
		images:     images,
		videos:     videos,
		opts:       opts,
	}
}

// Process never returns an error; every problem is folded into the result.
// ctx is checked before the download and before conversion. Steps already
// under way are not interrupted.
func (p *ItemProcessor) Process(ctx context.Context, index int, entry manifest.Entry, progress func(string)) ItemResult {
	res := ItemResult{Index: index}
	report := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		logger.Debug.Printf("[%d] %s", index, msg)
		if progress != nil {
			progress(msg)
		}
	}

	if ctx.Err() != nil {
		return p.finish(res, StatusCancelled, "stopped before start", ctx.Err())
	}

	item, err := manifest.ParseItem(entry)
	switch {
	case errors.Is(err, manifest.ErrMissingURL):
		return p.finish(res, StatusSkipped, "no download URL", nil)
	case err != nil:
		return p.finish(res, StatusFailed, "invalid manifest entry", err)
	}

	loc := item.Location()
	local := p.resolver.Resolve(item.CaptureUTC, loc)
	capture := metadata.NewCapture(local, loc)
	if loc.Valid {
		report("Location: %.6f, %.6f (%s)", loc.Lat, loc.Lon, local.Zone)
	} else {
		report("No location data available")
	}

	dest := p.storage.GenerateFilePath(local.Stamp(), index, item.MediaType)
	report("File: %s", filepath.Base(dest))

	if p.opts.Resume {
		if p.storage.FileExists(dest) {
			res.Paths = []string{dest}
			return p.finish(res, StatusSkipped, "already downloaded", nil)
		}
		// Archive items never land on dest; their merges are named by stamp alone.
		if merged := p.storage.MergedOutputs(local.Stamp()); len(merged) > 0 {
			res.Paths = merged
			return p.finish(res, StatusSkipped, "already merged", nil)
		}
	}

	if ctx.Err() != nil {
		return p.finish(res, StatusCancelled, "stopped before download", ctx.Err())
	}

	out := p.fetcher.Download(ctx, item.DownloadURL, dest, p.opts.MaxRetries, progress, local.Time)
	if !out.OK() {
		if ctx.Err() != nil && errors.Is(out.Err, ctx.Err()) {
			return p.finish(res, StatusCancelled, "stopped during download", out.Err)
		}
		return p.finish(res, StatusFailed, "download failed", out.Err)
	}
	res.Paths = out.Paths()
	merged := out.Kind == files.Merged
	if merged {
		report("Processing %d merged file(s)", len(res.Paths))
	}

	// Post-processing runs to completion once started.
	work := context.WithoutCancel(ctx)
	stopped := false
	for _, path := range res.Paths {
		switch kind := contentKind(path); kind {
		case validate.KindMP4:
			if !merged && ctx.Err() != nil {
				stopped = true
			} else if !merged {
				p.normalize(work, path, report)
			}
			p.tagVideo(work, path, capture, report)
		case validate.KindJPEG, validate.KindPNG:
			p.tagImage(path, capture, report)
		default:
			report("No metadata written to %s (%s)", filepath.Base(path), kind)
		}
		metadata.SetFileTimestamps(path, capture.Local)
	}

	for _, path := range res.Paths {
		if err := validate.CheckMediaFile(path); err != nil {
			return p.finish(res, StatusFailed, "final validation failed", fmt.Errorf("%s: %w", filepath.Base(path), err))
		}
	}
	if stopped {
		return p.finish(res, StatusCancelled, "stopped before conversion", ctx.Err())
	}
	return p.finish(res, StatusSuccess, out.Kind.String(), nil)
}

func (p *ItemProcessor) finish(res ItemResult, status Status, msg string, err error) ItemResult {
	res.Status = status
	res.Message = msg
	res.Err = err
	switch status {
	case StatusFailed:
		logger.Error.Printf("[%d] %s: %v", res.Index, msg, err)
	case StatusSkipped, StatusCancelled:
		logger.Info.Printf("[%d] %s", res.Index, msg)
	default:
		logger.Info.Printf("[%d] %s: %v", res.Index, msg, res.Paths)
	}
	return res
}

func (p *ItemProcessor) normalize(ctx context.Context, path string, report func(string, ...any)) {
	if p.normalizer == nil {
		return
	}
	if p.opts.ConvertH264 {
		r := p.normalizer.EnsureH264(ctx, path)
		if r.OK {
			report("H.264: %s (%s)", r.Message, r.Method)
		} else {
			report("Conversion failed, keeping original: %s", r.Message)
		}
	}
	if p.opts.EnforcePortrait {
		ok, msg := p.normalizer.EnsurePortrait(ctx, path)
		if ok {
			report("Orientation: %s", msg)
		} else {
			report("Could not enforce portrait orientation: %s", msg)
		}
	}
}

func (p *ItemProcessor) tagVideo(ctx context.Context, path string, c metadata.Capture, report func(string, ...any)) {
	if p.videos == nil {
		return
	}
	name, err := p.videos.Apply(ctx, path, c)
	if err != nil {
		logger.Warn.Printf("Video metadata not set for %s: %v", path, err)
		report("Video metadata not set")
		return
	}
	report("Set video metadata (%s)", name)
}

func (p *ItemProcessor) tagImage(path string, c metadata.Capture, report func(string, ...any)) {
	if p.images == nil {
		return
	}
	wrote, err := p.images.Write(path, c)
	switch {
	case err != nil:
		logger.Warn.Printf("EXIF metadata error for %s: %v", path, err)
		report("EXIF metadata error: %v", err)
	case wrote:
		report("Set EXIF metadata")
	}
}

func contentKind(path string) validate.Kind {
	head, err := validate.ReadHead(path, validate.HeadSize)
	if err != nil {
		return validate.KindUnknown
	}
	return validate.Classify(head)
}
