package video

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memories_restore/internal/capability"
	"memories_restore/internal/probe"
	"memories_restore/internal/testutil"
)

type stubProber struct {
	info *probe.Info
	err  error
}

func (s stubProber) Probe(context.Context, string) (*probe.Info, error) {
	return s.info, s.err
}

func fileHash(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return sha256.Sum256(data)
}

func realNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	ffmpeg, ffprobe := testutil.RequireFFmpeg(t)
	caps := capability.Record{FFmpeg: ffmpeg, FFprobe: ffprobe}
	return New(caps, &probe.FFprobe{Path: ffprobe, Timeout: 10 * time.Second}, Options{Timeout: time.Minute})
}

func TestTransposeFilter(t *testing.T) {
	assert.Equal(t, "", transposeFilter(0))
	assert.Equal(t, "transpose=1", transposeFilter(1))
	assert.Equal(t, "transpose=1,transpose=1", transposeFilter(2))
	assert.Equal(t, "transpose=2", transposeFilter(3))
}

func TestEnsureH264SkipsH264(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 2000), 0644))

	n := New(capability.Record{}, stubProber{info: &probe.Info{HasVideo: true, Codec: "h264"}}, Options{})
	res := n.EnsureH264(context.Background(), path)
	assert.True(t, res.OK)
	assert.Equal(t, "skipped", res.Method)
}

func TestEnsureH264ArchivesOnTotalFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("v", 4096)), 0644))
	before := fileHash(t, path)

	failed := filepath.Join(dir, FailedDirName)
	n := New(capability.Record{}, stubProber{err: errors.New("no probe")}, Options{FailedDir: failed})
	res := n.EnsureH264(context.Background(), path)

	require.False(t, res.OK)
	var convErr *ConversionError
	require.ErrorAs(t, res.Err, &convErr)
	assert.ErrorIs(t, res.Err, ErrToolUnavailable)

	assert.Equal(t, before, fileHash(t, path), "original stays in place")
	assert.Equal(t, before, fileHash(t, filepath.Join(failed, "clip.mp4")))

	report, err := os.ReadFile(filepath.Join(failed, "clip_error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "Primary (goffmpeg)")
	assert.Contains(t, string(report), "Fallback (vlc)")
}

func TestEnsureH264RetriesWithDelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("v", 4096)), 0644))

	// A bogus ffmpeg path makes every transcoder attempt fail quickly.
	n := New(capability.Record{FFmpeg: filepath.Join(dir, "no-ffmpeg")}, nil, Options{FailedDir: filepath.Join(dir, "failed")})
	var waits []time.Duration
	n.sleep = func(d time.Duration) { waits = append(waits, d) }

	res := n.EnsureH264(context.Background(), path)
	assert.False(t, res.OK)
	assert.Equal(t, []time.Duration{defaultRetryDelay, defaultRetryDelay}, waits)
}

// stallingFFmpeg puts ffmpeg and ffprobe stand-ins on PATH. The ffmpeg one
// writes a partial output and then hangs until killed.
func stallingFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	bin := t.TempDir()
	ffmpeg := filepath.Join(bin, "ffmpeg")
	scripts := map[string]string{
		ffmpeg: "#!/bin/sh\nfor last; do :; done\nprintf partial > \"$last\"\nexec sleep 5\n",
		filepath.Join(bin, "ffprobe"): "#!/bin/sh\necho '{}'\n",
	}
	for path, body := range scripts {
		require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	return ffmpeg
}

func TestEnsureH264TimeoutStopsTranscoder(t *testing.T) {
	ffmpeg := stallingFFmpeg(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("v", 4096)), 0644))

	n := New(capability.Record{FFmpeg: ffmpeg}, nil, Options{
		FailedDir: filepath.Join(dir, "failed"),
		Attempts:  2,
		Timeout:   300 * time.Millisecond,
	})
	n.sleep = func(time.Duration) {}

	before := runtime.NumGoroutine()
	start := time.Now()
	res := n.EnsureH264(context.Background(), path)
	require.False(t, res.OK)
	assert.Less(t, time.Since(start), 4*time.Second)

	var convErr *ConversionError
	require.ErrorAs(t, res.Err, &convErr)
	assert.Contains(t, convErr.Primary.Error(), "timed out")

	// The stand-in would rewrite the staging file if it were still running.
	time.Sleep(200 * time.Millisecond)
	_, err := os.Stat(filepath.Join(dir, "clip.temp.mp4"))
	assert.True(t, os.IsNotExist(err), "staging output removed")

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 50*time.Millisecond, "transcoder goroutines exit")
}

func TestEnsurePortraitIdempotent(t *testing.T) {
	n := realNormalizer(t)
	path := testutil.MakeVideo(t, t.TempDir(), "portrait.mp4", 48, 64, 1)
	before := fileHash(t, path)

	for i := 0; i < 2; i++ {
		ok, msg := n.EnsurePortrait(context.Background(), path)
		assert.True(t, ok)
		assert.Equal(t, "already portrait", msg)
	}
	assert.Equal(t, before, fileHash(t, path))
}

func TestEnsurePortraitRotatesLandscape(t *testing.T) {
	testutil.RequireEncoder(t, "libx264")
	n := realNormalizer(t)
	path := testutil.MakeVideo(t, t.TempDir(), "landscape.mp4", 64, 48, 1)

	ok, msg := n.EnsurePortrait(context.Background(), path)
	require.True(t, ok, msg)

	info, err := n.prober.Probe(context.Background(), path)
	require.NoError(t, err)
	w, h := info.DisplaySize()
	assert.Equal(t, [2]int{48, 64}, [2]int{w, h})

	ok, msg = n.EnsurePortrait(context.Background(), path)
	assert.True(t, ok)
	assert.Equal(t, "already portrait", msg)

	_, err = os.Stat(path + ".backup")
	assert.True(t, os.IsNotExist(err))
}

func TestEnsureH264Converts(t *testing.T) {
	testutil.RequireEncoder(t, "libx264")
	n := realNormalizer(t)
	path := testutil.MakeVideo(t, t.TempDir(), "clip.mp4", 64, 48, 1)

	res := n.EnsureH264(context.Background(), path)
	if !res.OK {
		t.Skipf("transcoder could not run here: %v", res.Err)
	}

	info, err := n.prober.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "h264", info.Codec)
}

func TestRunToolMissingBinary(t *testing.T) {
	assert.ErrorIs(t, RunTool(context.Background(), time.Second, ""), ErrToolUnavailable)
	assert.Error(t, RunTool(context.Background(), time.Second, "definitely-not-a-binary"))
}
