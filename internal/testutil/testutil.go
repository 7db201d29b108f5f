// Package testutil builds small media fixtures for package tests.
package testutil

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// RequireFFmpeg skips the test unless both ffmpeg and ffprobe are on PATH.
func RequireFFmpeg(t testing.TB) (ffmpeg, ffprobe string) {
	t.Helper()
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	ffprobe, err = exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return ffmpeg, ffprobe
}

// MakeVideo renders a short test-pattern MP4 of the given size.
func MakeVideo(t testing.TB, dir, name string, width, height int, seconds float64) string {
	t.Helper()
	ffmpeg, _ := RequireFFmpeg(t)

	path := filepath.Join(dir, name)
	src := "testsrc=duration=" + strconv.FormatFloat(seconds, 'f', -1, 64) +
		":size=" + strconv.Itoa(width) + "x" + strconv.Itoa(height) + ":rate=10"
	cmd := exec.Command(ffmpeg, "-y", "-v", "error",
		"-f", "lavfi", "-i", src,
		"-c:v", "mpeg4", "-pix_fmt", "yuv420p",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to render test video: %v: %s", err, out)
	}
	return path
}

func fill(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// MakeJPEG writes a solid-color JPEG.
func MakeJPEG(t testing.TB, path string, width, height int, c color.Color) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, fill(width, height, c), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return path
}

// MakePNG writes a solid-color PNG, alpha included.
func MakePNG(t testing.TB, path string, width, height int, c color.Color) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, fill(width, height, c)); err != nil {
		t.Fatal(err)
	}
	return path
}

// RequireEncoder skips the test unless ffmpeg was built with encoder.
func RequireEncoder(t testing.TB, encoder string) {
	t.Helper()
	ffmpeg, _ := RequireFFmpeg(t)
	out, err := exec.Command(ffmpeg, "-hide_banner", "-encoders").Output()
	if err != nil || !strings.Contains(string(out), " "+encoder+" ") {
		t.Skipf("ffmpeg encoder %s not available", encoder)
	}
}
