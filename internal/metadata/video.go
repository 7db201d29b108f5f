package metadata

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"memories_restore/internal/capability"
	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/mp4meta"
	"memories_restore/internal/validate"
)

var ErrNoStrategy = errors.New("no video metadata strategy available")

// VideoStrategy is one way of writing capture metadata into a video.
type VideoStrategy struct {
	Name  string
	Apply func(ctx context.Context, path string, c Capture) error
}

// VideoChain tries each strategy in order; the first success wins.
type VideoChain []VideoStrategy

// Apply returns the name of the strategy that succeeded.
func (ch VideoChain) Apply(ctx context.Context, path string, c Capture) (string, error) {
	if len(ch) == 0 {
		return "", ErrNoStrategy
	}
	var errs []error
	for _, s := range ch {
		if err := s.Apply(ctx, path, c); err != nil {
			logger.Debug.Printf("Video metadata via %s failed for %s: %v", s.Name, path, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		return s.Name, nil
	}
	return "", errors.Join(errs...)
}

// NewVideoChain orders the ffmpeg stream-copy strategy ahead of the direct
// box rewrite. The ffmpeg strategy is left out when ffmpeg is missing.
func NewVideoChain(caps capability.Record, timeout time.Duration) VideoChain {
	var ch VideoChain
	if caps.HasFFmpeg() {
		ch = append(ch, FFmpegStrategy(caps.FFmpeg, timeout))
	}
	return append(ch, BoxStrategy())
}

// FFmpegStrategy remuxes with -c copy and the metadata as -metadata pairs.
func FFmpegStrategy(bin string, timeout time.Duration) VideoStrategy {
	return VideoStrategy{
		Name: "ffmpeg",
		Apply: func(ctx context.Context, path string, c Capture) error {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			tmp := fileutil.StagingPath(path, "temp")
			cmd := exec.CommandContext(ctx, bin, FFmpegMetadataArgs(path, tmp, c)...)
			if out, err := cmd.CombinedOutput(); err != nil {
				fileutil.Cleanup(tmp)
				return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(out))
			}

			head, err := validate.ReadHead(tmp, validate.HeadSize)
			if err != nil || !validate.HasMP4Signature(head) || fileutil.Size(tmp) < validate.MinFileSize {
				fileutil.Cleanup(tmp)
				return errors.New("ffmpeg produced an unusable file")
			}
			if err := fileutil.ReplaceFile(tmp, path); err != nil {
				fileutil.Cleanup(tmp)
				return err
			}
			return nil
		},
	}
}

// FFmpegMetadataArgs builds the stream-copy command line.
func FFmpegMetadataArgs(in, out string, c Capture) []string {
	args := []string{
		"-y", "-v", "error",
		"-i", in,
		"-map_metadata", "0",
		"-c", "copy",
		"-metadata", "creation_time=" + c.Local.UTC().Format("2006-01-02T15:04:05.000000Z"),
		"-metadata", "date=" + c.Local.Format("2006-01-02T15:04:05"),
		"-metadata", "com.apple.quicktime.creationdate=" + appleDate(c),
	}
	if c.HasGPS {
		args = append(args,
			"-metadata", fmt.Sprintf("location=%+.6f%+.6f/", c.Lat, c.Lon),
			"-metadata", fmt.Sprintf("location-eng=%s, %s", formatCoord(c.Lat), formatCoord(c.Lon)),
			"-metadata", "com.apple.quicktime.location.ISO6709="+ISO6709(c.Lat, c.Lon),
		)
	}
	return append(args, "-movflags", "use_metadata_tags", out)
}

// BoxStrategy edits the MP4 item list directly, guarded by a backup copy.
func BoxStrategy() VideoStrategy {
	return VideoStrategy{
		Name:  "mp4 boxes",
		Apply: applyBoxes,
	}
}

func applyBoxes(ctx context.Context, path string, c Capture) error {
	if err := checkMP4Header(path); err != nil {
		return err
	}

	tags := mp4meta.Tags{
		Created:      c.Local,
		Day:          c.Local.UTC().Format("2006-01-02T15:04:05Z"),
		CreationDate: appleDate(c),
	}
	if c.HasGPS {
		tags.ISO6709 = ISO6709(c.Lat, c.Lon)
		tags.Latitude = formatCoord(c.Lat)
		tags.Longitude = formatCoord(c.Lon)
	}

	return fileutil.Update(path, func(p string) error {
		return mp4meta.Write(p, tags)
	}, checkMP4Header)
}

func checkMP4Header(path string) error {
	head, err := validate.ReadHead(path, 12)
	if err != nil {
		return err
	}
	if !validate.HasMP4Signature(head) {
		return errors.New("not an mp4 container")
	}
	return nil
}

// ISO6709 formats a point as "+DD.DDDD+DDD.DDDD/".
func ISO6709(lat, lon float64) string {
	return fmt.Sprintf("%+08.4f%+09.4f/", lat, lon)
}

func appleDate(c Capture) string {
	return c.Local.Format("2006-01-02T15:04:05-0700")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}
