// Package capability detects the external tools and optional libraries the
// pipeline can use. Detection runs once at startup and the resulting Record
// is passed to every component that needs it.
package capability

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Paths names the binaries to look for. Empty entries fall back to the
// usual command names.
type Paths struct {
	FFmpeg  string
	FFprobe string
	VLC     string
}

// Record is the immutable result of Detect.
type Record struct {
	FFmpeg    string // resolved path, empty when missing
	FFprobe   string
	VLC       string
	FrameLib  bool // compiled with the OpenCV frame pipeline
	ExifWrite bool
}

func (r Record) HasFFmpeg() bool  { return r.FFmpeg != "" }
func (r Record) HasFFprobe() bool { return r.FFprobe != "" }
func (r Record) HasVLC() bool     { return r.VLC != "" }

// Detect resolves each tool once.
func Detect(p Paths) Record {
	return Record{
		FFmpeg:    lookup(orDefault(p.FFmpeg, "ffmpeg")),
		FFprobe:   lookup(orDefault(p.FFprobe, "ffprobe")),
		VLC:       findVLC(p.VLC),
		FrameLib:  frameLibCompiled,
		ExifWrite: true,
	}
}

// Summary renders a one-line-per-tool report for the startup banner.
func (r Record) Summary() string {
	var b strings.Builder
	line := func(name, path string, ok bool) {
		status := "missing"
		if ok {
			status = "available"
			if path != "" {
				status += " (" + path + ")"
			}
		}
		fmt.Fprintf(&b, "  %-14s %s\n", name, status)
	}
	line("ffmpeg", r.FFmpeg, r.HasFFmpeg())
	line("ffprobe", r.FFprobe, r.HasFFprobe())
	line("vlc", r.VLC, r.HasVLC())
	line("frame library", "", r.FrameLib)
	line("exif writer", "", r.ExifWrite)
	return b.String()
}

func lookup(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

func findVLC(configured string) string {
	if configured != "" {
		return lookup(configured)
	}
	if path := lookup("vlc"); path != "" {
		return path
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{"/Applications/VLC.app/Contents/MacOS/VLC"}
	case "windows":
		candidates = []string{
			`C:\Program Files\VideoLAN\VLC\vlc.exe`,
			`C:\Program Files (x86)\VideoLAN\VLC\vlc.exe`,
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
