//go:build gocv

package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// framePipeline is the programmatic rotate path used when the external
// ffmpeg invocation fails.
type framePipeline interface {
	Name() string
	Rotate(ctx context.Context, in, out string, turns int) error
}

// cvPipeline decodes with OpenCV, rotates each frame and re-encodes. Audio
// is not carried over.
type cvPipeline struct {
	timeout time.Duration
}

func newFramePipeline(timeout time.Duration) framePipeline {
	return &cvPipeline{timeout: timeout}
}

func (p *cvPipeline) Name() string { return "opencv" }

func (p *cvPipeline) Rotate(ctx context.Context, in, out string, turns int) error {
	capture, err := gocv.VideoCaptureFile(in)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", in, err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if turns%2 == 1 {
		width, height = height, width
	}

	writer, err := gocv.VideoWriterFile(out, "avc1", fps, width, height, true)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}
	defer writer.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	rotated := gocv.NewMat()
	defer rotated.Close()

	deadline := time.Now().Add(p.timeout)
	frames := 0
	for capture.Read(&frame) {
		if frame.Empty() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("rotation timed out after %v", p.timeout)
		}

		dst := frame
		switch turns % 4 {
		case 1:
			gocv.Rotate(frame, &rotated, gocv.Rotate90Clockwise)
			dst = rotated
		case 2:
			gocv.Rotate(frame, &rotated, gocv.Rotate180Clockwise)
			dst = rotated
		case 3:
			gocv.Rotate(frame, &rotated, gocv.Rotate90CounterClockwise)
			dst = rotated
		}
		if err := writer.Write(dst); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", frames, err)
		}
		frames++
	}

	if frames == 0 {
		return errors.New("no frames decoded")
	}
	return nil
}
