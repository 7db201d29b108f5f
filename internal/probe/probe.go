// Package probe reads stream facts from media files with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned when no ffprobe binary can be found.
var ErrUnavailable = errors.New("ffprobe not available")

// Info describes the first video stream and the container of a media file.
type Info struct {
	HasVideo  bool
	HasAudio  bool
	Codec     string
	Width     int
	Height    int
	Rotation  int // clockwise degrees a player applies for display: 0, 90, 180 or 270
	Duration  float64
	BitRate   int64
	FrameRate float64
}

// DisplaySize returns the dimensions as shown by a player honouring the
// rotation tag.
func (i *Info) DisplaySize() (int, int) {
	if i.Rotation == 90 || i.Rotation == 270 {
		return i.Height, i.Width
	}
	return i.Width, i.Height
}

// Prober inspects media files.
type Prober interface {
	Probe(ctx context.Context, path string) (*Info, error)
}

// FFprobe runs the ffprobe binary at Path.
type FFprobe struct {
	Path    string
	Timeout time.Duration
}

func (p *FFprobe) Available() bool {
	if p == nil || p.Path == "" {
		return false
	}
	_, err := exec.LookPath(p.Path)
	return err == nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string            `json:"codec_type"`
		CodecName    string            `json:"codec_name"`
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		AvgFrameRate string            `json:"avg_frame_rate"`
		BitRate      string            `json:"bit_rate"`
		Tags         map[string]string `json:"tags"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func (p *FFprobe) Probe(ctx context.Context, path string) (*Info, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name,width,height,avg_frame_rate,bit_rate:stream_tags=rotate:stream_side_data=rotation:format=duration,bit_rate",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return Parse(out)
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (*Info, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}

	info := &Info{}
	info.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	info.BitRate, _ = strconv.ParseInt(raw.Format.BitRate, 10, 64)

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = ParseFrameRate(s.AvgFrameRate)
			if br, err := strconv.ParseInt(s.BitRate, 10, 64); err == nil && br > 0 {
				info.BitRate = br
			}
			if tag, ok := s.Tags["rotate"]; ok {
				if deg, err := strconv.Atoi(tag); err == nil {
					info.Rotation = normalizeRotation(deg)
				}
			}
			for _, sd := range s.SideDataList {
				if sd.Rotation != nil && info.Rotation == 0 {
					// Display matrices are counter-clockwise.
					info.Rotation = normalizeRotation(-int(*sd.Rotation))
				}
			}
		}
	}
	return info, nil
}

// ParseFrameRate turns "30000/1001" or "25" into frames per second.
func ParseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
