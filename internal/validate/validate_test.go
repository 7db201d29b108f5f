package validate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memories_restore/internal/probe"
)

func padded(head []byte, size int) []byte {
	return append(append([]byte{}, head...), bytes.Repeat([]byte{0}, size-len(head))...)
}

func mp4Head() []byte {
	return append([]byte{0, 0, 0, 0x18}, []byte("ftypmp42")...)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want Kind
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, KindJPEG},
		{"jpeg two-byte soi", []byte{0xFF, 0xD8, 0x00, 0x10}, KindJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, KindPNG},
		{"zip", []byte("PK\x03\x04rest"), KindZIP},
		{"mp4 ftyp", mp4Head(), KindMP4},
		{"mp4 mdat", []byte("\x00\x00\x00\x08mdat"), KindMP4},
		{"html doctype", []byte("<!DOCTYPE html><html>"), KindHTML},
		{"html leading space", []byte("  <html lang=en>"), KindHTML},
		{"text", []byte("hello world, this is text"), KindUnknown},
		{"short", []byte{0xFF}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.head))
		})
	}
}

func TestCheckMediaFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		body    []byte
		wantErr error
	}{
		{"jpeg named txt", "photo.txt", padded([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 200), nil},
		{"mp4 named jpg", "clip.jpg", padded(mp4Head(), 200), nil},
		{"png", "a.png", padded([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, 200), nil},
		{"jpeg two-byte soi", "photo.x", padded([]byte{0xFF, 0xD8, 0x00, 0x10}, 200), nil},
		{"zip named bin", "payload.bin", padded([]byte("PK\x03\x04"), 200), nil},
		{"jpeg below floor", "small.jpg", padded([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 99), ErrTooSmall},
		{"html named mp4", "expired.mp4", padded([]byte("<!DOCTYPE html>"), 300), ErrHTMLPayload},
		{"unknown", "noise.bin", bytes.Repeat([]byte{'x'}, 300), ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, tt.body, 0644))

			err := CheckMediaFile(path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				assert.True(t, IsValidMediaFile(path))
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, IsValidMediaFile(path))
			}
		})
	}

	assert.ErrorIs(t, CheckMediaFile(filepath.Join(dir, "missing.jpg")), ErrNotFound)
}

func TestSizeFloorBoundary(t *testing.T) {
	dir := t.TempDir()
	at := filepath.Join(dir, "at.jpg")
	below := filepath.Join(dir, "below.jpg")
	require.NoError(t, os.WriteFile(at, padded([]byte{0xFF, 0xD8, 0xFF}, MinFileSize), 0644))
	require.NoError(t, os.WriteFile(below, padded([]byte{0xFF, 0xD8, 0xFF}, MinFileSize-1), 0644))

	assert.True(t, IsValidMediaFile(at))
	assert.False(t, IsValidMediaFile(below))
}

type fakeProber struct {
	info *probe.Info
	err  error
}

func (f fakeProber) Probe(context.Context, string) (*probe.Info, error) {
	return f.info, f.err
}

func TestIsValidVideoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, padded(mp4Head(), 2000), 0644))
	small := filepath.Join(dir, "small.mp4")
	require.NoError(t, os.WriteFile(small, padded(mp4Head(), 500), 0644))

	ctx := context.Background()

	ok, info := IsValidVideoFile(ctx, filepath.Join(dir, "missing.mp4"), VideoOptions{})
	assert.False(t, ok)
	assert.Equal(t, "does not exist", info.Error)

	ok, info = IsValidVideoFile(ctx, small, VideoOptions{})
	assert.False(t, ok)
	assert.Equal(t, "too small", info.Error)

	ok, info = IsValidVideoFile(ctx, path, VideoOptions{})
	assert.True(t, ok)
	assert.False(t, info.Probed)

	ok, _ = IsValidVideoFile(ctx, path, VideoOptions{Prober: fakeProber{err: errors.New("no ffprobe")}})
	assert.True(t, ok, "probe failure degrades to the size check")

	ok, info = IsValidVideoFile(ctx, path, VideoOptions{
		MinDuration: 1,
		Prober:      fakeProber{info: &probe.Info{HasVideo: true, Duration: 0.4, Codec: "h264"}},
	})
	assert.False(t, ok)
	assert.True(t, info.Probed)
	assert.Equal(t, "h264", info.Codec)

	ok, info = IsValidVideoFile(ctx, path, VideoOptions{
		Prober: fakeProber{info: &probe.Info{HasVideo: false, Duration: 5}},
	})
	assert.False(t, ok)
	assert.Equal(t, "no video stream", info.Error)
}
