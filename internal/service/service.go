package service

import (
	"context"
	"fmt"

	"memories_restore/internal/archive"
	"memories_restore/internal/capability"
	"memories_restore/internal/config"
	"memories_restore/internal/files"
	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
	"memories_restore/internal/metadata"
	"memories_restore/internal/probe"
	"memories_restore/internal/timezone"
	"memories_restore/internal/video"
)

// MemoryService wires the pipeline together from configuration.
type MemoryService struct {
	storage *files.FileStorage
	pool    *Pool
}

func NewMemoryService(cfg *config.Config, caps capability.Record) (*MemoryService, error) {
	storage, err := files.NewFileStorage(cfg.OutputDir, cfg.MinFreeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create file storage: %w", err)
	}

	var prober probe.Prober
	if caps.HasFFprobe() {
		prober = &probe.FFprobe{Path: caps.FFprobe, Timeout: cfg.ProbeTimeout}
	} else {
		logger.Warn.Printf("ffprobe not found; video checks fall back to size only")
	}

	normalizer := video.New(caps, prober, video.Options{
		FailedDir: storage.FailedDir(),
		Timeout:   cfg.TranscodeTimeout,
	})

	var portrait archive.Portraiter
	if cfg.EnforcePortrait {
		portrait = normalizer
	}
	reconstructor := archive.NewReconstructor(caps, prober, portrait, cfg.TranscodeTimeout)

	downloader := files.NewDownloader(storage, reconstructor, files.Options{
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})

	processor := NewItemProcessor(
		storage,
		downloader,
		&timezone.Resolver{UseSystem: cfg.UseSystemTimezone},
		normalizer,
		&metadata.ExifWriter{},
		metadata.NewVideoChain(caps, cfg.TranscodeTimeout),
		ProcessorOptions{
			MaxRetries:      cfg.MaxRetries,
			Resume:          cfg.Resume,
			ConvertH264:     cfg.ConvertH264,
			EnforcePortrait: cfg.EnforcePortrait,
		},
	)

	return &MemoryService{
		storage: storage,
		pool:    NewPool(cfg.Workers, processor, storage.BasePath),
	}, nil
}

// Run processes every entry and returns the run summary.
func (s *MemoryService) Run(ctx context.Context, entries []manifest.Entry, obs Observer) Summary {
	logger.Info.Printf("Processing %d item(s) into %s", len(entries), s.storage.BasePath)
	return s.pool.Run(ctx, entries, obs)
}
