package video

import (
	"context"
	"fmt"

	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
)

// EnsurePortrait re-encodes a landscape or rotation-tagged clip so that its
// pixels are stored portrait. Clips already stored portrait are untouched.
func (n *Normalizer) EnsurePortrait(ctx context.Context, path string) (bool, string) {
	if !fileutil.Exists(path) {
		return false, "file not found"
	}

	info := n.probeInfo(ctx, path)
	if info == nil {
		return false, "could not probe video"
	}
	if !info.HasVideo {
		return false, "no video stream"
	}

	w, h := info.DisplaySize()
	turns := 0
	if w > h {
		turns = 1
	}
	if turns == 0 && info.Rotation == 0 {
		return true, "already portrait"
	}

	want := [2]int{w, h}
	if turns == 1 {
		want = [2]int{h, w}
	}

	candidate := fileutil.StagingPath(path, "rotated")
	method := "ffmpeg"
	err := n.rotateFFmpeg(ctx, path, candidate, turns)
	if err == nil {
		err = n.checkCandidate(ctx, candidate, want)
	}
	if err != nil {
		fileutil.Cleanup(candidate)
		logger.Warn.Printf("ffmpeg rotation failed for %s, trying %s: %v", path, n.pipeline.Name(), err)

		method = n.pipeline.Name()
		err = n.pipeline.Rotate(ctx, path, candidate, turns)
		if err == nil {
			err = n.checkCandidate(ctx, candidate, want)
		}
	}
	if err != nil {
		fileutil.Cleanup(candidate)
		return false, fmt.Sprintf("rotation failed: %v", err)
	}

	err = fileutil.Update(path, func(p string) error {
		return fileutil.ReplaceFile(candidate, p)
	}, nil)
	if err != nil {
		fileutil.Cleanup(candidate)
		return false, fmt.Sprintf("failed to replace original: %v", err)
	}
	return true, fmt.Sprintf("rotated to portrait (%dx%d) via %s", want[0], want[1], method)
}

// rotateFFmpeg bakes any rotation tag into the pixels and turns the result
// a further quarter clockwise when turns is 1.
func (n *Normalizer) rotateFFmpeg(ctx context.Context, in, out string, turns int) error {
	if !n.caps.HasFFmpeg() {
		return ErrToolUnavailable
	}
	args := []string{"-y", "-v", "error", "-i", in}
	if f := transposeFilter(turns); f != "" {
		args = append(args, "-vf", f)
	}
	args = append(args,
		"-c:v", "libx264", "-crf", "18", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-map_metadata", "0",
		"-movflags", "+faststart",
		out,
	)
	return RunTool(ctx, n.opts.Timeout, n.caps.FFmpeg, args...)
}

func transposeFilter(turns int) string {
	switch turns % 4 {
	case 1:
		return "transpose=1"
	case 2:
		return "transpose=1,transpose=1"
	case 3:
		return "transpose=2"
	}
	return ""
}
