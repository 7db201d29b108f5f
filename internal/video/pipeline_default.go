//go:build !gocv

package video

import (
	"context"
	"fmt"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"
)

// framePipeline is the programmatic rotate path used when the external
// ffmpeg invocation fails.
type framePipeline interface {
	Name() string
	Rotate(ctx context.Context, in, out string, turns int) error
}

type transcoderPipeline struct {
	timeout time.Duration
}

func newFramePipeline(timeout time.Duration) framePipeline {
	return &transcoderPipeline{timeout: timeout}
}

func (p *transcoderPipeline) Name() string { return "goffmpeg" }

func (p *transcoderPipeline) Rotate(ctx context.Context, in, out string, turns int) error {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(in, out); err != nil {
		return fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	trans.MediaFile().SetVideoCodec("libx264")
	trans.MediaFile().SetAudioCodec("aac")
	trans.MediaFile().SetPreset("veryfast")
	if f := transposeFilter(turns); f != "" {
		trans.MediaFile().SetVideoFilter(f + ",format=yuv420p")
	} else {
		trans.MediaFile().SetVideoFilter("format=yuv420p")
	}
	trans.MediaFile().SetOutputFormat("mp4")

	if err := runTranscoder(ctx, trans, p.timeout); err != nil {
		return fmt.Errorf("rotation failed: %w", err)
	}
	return nil
}
