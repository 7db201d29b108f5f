package video

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"

	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/probe"
)

// EnsureH264 re-encodes path to H.264/AAC in place. Files already carrying
// H.264 are left alone. When every path fails, the original is kept where it
// is and a copy goes to the failed conversions directory.
func (n *Normalizer) EnsureH264(ctx context.Context, path string) ConversionResult {
	if !fileutil.Exists(path) {
		return ConversionResult{Message: "file not found", Err: os.ErrNotExist}
	}

	info := n.probeInfo(ctx, path)
	if info != nil && info.Codec == "h264" {
		return ConversionResult{OK: true, Method: "skipped", Message: "already h264"}
	}

	var want [2]int
	if info != nil {
		// ffmpeg applies the display rotation while decoding, so the
		// re-encoded frames carry the displayed size.
		w, h := info.DisplaySize()
		want = [2]int{w, h}
		if info.Rotation != 0 {
			logger.Debug.Printf("Source %s is rotated %d degrees, expecting %dx%d output", path, info.Rotation, w, h)
		}
	}

	var primaryErr error
	if n.caps.HasFFmpeg() {
		primaryErr = n.transcodeWithRetry(ctx, path, info, want)
		if primaryErr == nil {
			return ConversionResult{OK: true, Method: "goffmpeg", Message: "converted to h264"}
		}
		logger.Warn.Printf("Primary conversion failed for %s: %v", path, primaryErr)
	} else {
		primaryErr = fmt.Errorf("ffmpeg: %w", ErrToolUnavailable)
	}

	var fallbackErr error
	if n.caps.HasVLC() {
		fallbackErr = n.transcodeVLC(ctx, path, want)
		if fallbackErr == nil {
			return ConversionResult{OK: true, Method: "vlc", Message: "converted to h264 with vlc"}
		}
		logger.Warn.Printf("VLC conversion failed for %s: %v", path, fallbackErr)
	} else {
		fallbackErr = fmt.Errorf("vlc: %w", ErrToolUnavailable)
	}

	convErr := &ConversionError{Path: path, Primary: primaryErr, Fallback: fallbackErr}
	if err := n.archiveFailure(path, convErr); err != nil {
		logger.Error.Printf("Failed to archive unconverted %s: %v", path, err)
	}
	return ConversionResult{Message: "conversion failed, original kept", Err: convErr}
}

func (n *Normalizer) transcodeWithRetry(ctx context.Context, path string, info *probe.Info, want [2]int) error {
	var lastErr error
	for attempt := 0; attempt < n.opts.Attempts; attempt++ {
		logger.LogRetryAttempt(attempt, n.opts.Attempts, "h264 conversion of "+filepath.Base(path))

		tmp := fileutil.StagingPath(path, "temp")
		err := n.transcode(ctx, path, tmp, info)
		if err == nil {
			err = n.checkCandidate(ctx, tmp, want)
		}
		if err == nil {
			if err = fileutil.ReplaceFile(tmp, path); err == nil {
				return nil
			}
		}

		fileutil.Cleanup(tmp)
		lastErr = err
		logger.Debug.Printf("Conversion attempt %d/%d failed for %s: %v", attempt+1, n.opts.Attempts, path, err)
		if attempt+1 < n.opts.Attempts {
			n.sleep(n.opts.RetryDelay)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", n.opts.Attempts, lastErr)
}

func (n *Normalizer) transcode(ctx context.Context, in, out string, info *probe.Info) error {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(in, out); err != nil {
		return fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	bitRate := n.opts.DefaultBitRate
	fps := 0.0
	if info != nil {
		if info.BitRate > 0 {
			bitRate = info.BitRate
		}
		fps = info.FrameRate
	}

	trans.MediaFile().SetVideoCodec("libx264")
	trans.MediaFile().SetAudioCodec("aac")
	trans.MediaFile().SetPreset("medium")
	trans.MediaFile().SetVideoBitRate(fmt.Sprintf("%dk", bitRate/1000))
	trans.MediaFile().SetVideoFilter("format=yuv420p")
	if fps > 0 {
		trans.MediaFile().SetFrameRate(int(math.Round(fps)))
	}
	trans.MediaFile().SetOutputFormat("mp4")

	if err := runTranscoder(ctx, trans, n.opts.Timeout); err != nil {
		return fmt.Errorf("transcoding failed: %w", err)
	}
	return nil
}

// runTranscoder waits for trans to finish. On timeout or cancellation the
// ffmpeg process is stopped and reaped before returning, so nothing keeps
// writing to the output once the caller removes it.
func runTranscoder(ctx context.Context, trans *transcoder.Transcoder, timeout time.Duration) error {
	done := trans.Run(false)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var stopErr error
	select {
	case err := <-done:
		return err
	case <-timer.C:
		stopErr = fmt.Errorf("timed out after %v", timeout)
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	_ = trans.Stop()
	if cmd := trans.Process(); cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	// Run's goroutine sends exactly once after Wait; receiving it reaps the
	// process and lets the goroutine exit.
	<-done
	return stopErr
}

func (n *Normalizer) transcodeVLC(ctx context.Context, path string, want [2]int) error {
	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_converted.mp4"
	sout := "#transcode{vcodec=h264,venc=x264{preset=medium,profile=main},acodec=mp3,ab=192,channels=2,samplerate=44100}" +
		":standard{access=file,mux=mp4,dst=" + out + "}"

	err := RunTool(ctx, n.opts.Timeout, n.caps.VLC,
		"-I", "dummy", "--no-repeat", "--no-loop",
		path, "--sout", sout, "vlc://quit",
	)
	if err == nil {
		err = n.checkCandidate(ctx, out, want)
	}
	if err == nil {
		err = fileutil.ReplaceFile(out, path)
	}
	if err != nil {
		fileutil.Cleanup(out)
	}
	return err
}

func (n *Normalizer) archiveFailure(path string, convErr *ConversionError) error {
	dir := n.opts.FailedDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), FailedDirName)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	name := filepath.Base(path)
	if err := fileutil.CopyFile(path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to copy original: %w", err)
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	report := fmt.Sprintf("Conversion failed: %s\nFile: %s\nPrimary (goffmpeg): %v\nFallback (vlc): %v\n",
		time.Now().Format(time.RFC3339), path, convErr.Primary, convErr.Fallback)
	if err := os.WriteFile(filepath.Join(dir, stem+"_error.log"), []byte(report), 0644); err != nil {
		return errors.Join(fmt.Errorf("failed to write error log"), err)
	}
	logger.Warn.Printf("Kept unconverted copy of %s in %s", name, dir)
	return nil
}
