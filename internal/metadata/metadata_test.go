package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memories_restore/internal/manifest"
	"memories_restore/internal/mp4meta"
	"memories_restore/internal/testutil"
	"memories_restore/internal/timezone"
)

func newYorkCapture() Capture {
	zone := time.FixedZone("EDT", -4*3600)
	lt := timezone.At(time.Date(2023, 6, 15, 14, 30, 45, 0, time.UTC), zone, "America/New_York")
	return NewCapture(lt, manifest.Location{Lat: 40.7128, Lon: -74.0060, Valid: true})
}

func TestDMS(t *testing.T) {
	d, m, cs := DMS(-74.0060)
	assert.Equal(t, uint32(74), d)
	assert.Equal(t, uint32(0), m)
	assert.InDelta(t, 2160, cs, 1)

	d, m, cs = DMS(40.7128)
	assert.Equal(t, uint32(40), d)
	assert.Equal(t, uint32(42), m)
	assert.InDelta(t, 4608, cs, 1)
}

func TestExifRoundTrip(t *testing.T) {
	path := testutil.MakeJPEG(t, filepath.Join(t.TempDir(), "photo.jpg"), 32, 24, color.RGBA{200, 40, 40, 255})
	c := newYorkCapture()

	ok, err := (&ExifWriter{}).Write(path, c)
	require.NoError(t, err)
	require.True(t, ok)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	x, err := goexif.Decode(f)
	require.NoError(t, err)

	taken, err := x.DateTime()
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15 10:30:45", taken.Format("2006-01-02 15:04:05"))

	lat, lon, err := x.LatLong()
	require.NoError(t, err)
	assert.InDelta(t, 40.7128, lat, 0.0001)
	assert.InDelta(t, -74.0060, lon, 0.0001)

	_, err = os.Stat(path + ".backup")
	assert.True(t, os.IsNotExist(err))
}

func TestExifSkipsNonJPEG(t *testing.T) {
	path := testutil.MakePNG(t, filepath.Join(t.TempDir(), "photo.jpg"), 16, 16, color.White)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ok, err := (&ExifWriter{}).Write(path, newYorkCapture())
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestVideoChainOrder(t *testing.T) {
	var calls []string
	strategy := func(name string, err error) VideoStrategy {
		return VideoStrategy{Name: name, Apply: func(context.Context, string, Capture) error {
			calls = append(calls, name)
			return err
		}}
	}

	chain := VideoChain{strategy("a", errors.New("boom")), strategy("b", nil), strategy("c", nil)}
	name, err := chain.Apply(context.Background(), "x.mp4", Capture{})
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.Equal(t, []string{"a", "b"}, calls)

	calls = nil
	chain = VideoChain{strategy("a", errors.New("boom")), strategy("b", errors.New("bust"))}
	_, err = chain.Apply(context.Background(), "x.mp4", Capture{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "bust")

	_, err = VideoChain{}.Apply(context.Background(), "x.mp4", Capture{})
	assert.ErrorIs(t, err, ErrNoStrategy)
}

func TestFFmpegMetadataArgs(t *testing.T) {
	args := FFmpegMetadataArgs("in.mp4", "in.temp.mp4", newYorkCapture())

	assert.Contains(t, args, "creation_time=2023-06-15T14:30:45.000000Z")
	assert.Contains(t, args, "date=2023-06-15T10:30:45")
	assert.Contains(t, args, "com.apple.quicktime.creationdate=2023-06-15T10:30:45-0400")
	assert.Contains(t, args, "location=+40.712800-74.006000/")
	assert.Contains(t, args, "com.apple.quicktime.location.ISO6709=+40.7128-074.0060/")
	assert.Equal(t, "in.temp.mp4", args[len(args)-1])

	noGPS := newYorkCapture()
	noGPS.HasGPS = false
	for _, a := range FFmpegMetadataArgs("in.mp4", "out.mp4", noGPS) {
		assert.NotContains(t, a, "location")
	}
}

func mp4Box(typ string, payload []byte) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:], typ)
	return append(out, payload...)
}

func mp4Prefix() []byte {
	ftyp := mp4Box("ftyp", []byte("isom\x00\x00\x02\x00isommp41"))
	mdat := mp4Box("mdat", bytes.Repeat([]byte{0xAB}, 256))
	return append(ftyp, mdat...)
}

func minimalMP4() []byte {
	return append(mp4Prefix(), mp4Box("moov", mp4Box("mvhd", make([]byte, 100)))...)
}

func TestBoxStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, minimalMP4(), 0644))

	require.NoError(t, BoxStrategy().Apply(context.Background(), path, newYorkCapture()))

	items, err := mp4meta.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "2023-06-15T14:30:45Z", items[mp4meta.KeyDay])
	assert.Equal(t, "2023-06-15T10:30:45-0400", items[mp4meta.KeyCreationDate])
	assert.Equal(t, "+40.7128-074.0060/", items[mp4meta.KeyLocation])
	_, err = os.Stat(path + ".backup")
	assert.True(t, os.IsNotExist(err))
}

func TestBoxStrategyRestoresOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	// Valid signature but moov claims more bytes than the file holds.
	broken := append(mp4Prefix(), 0, 0, 0x10, 0, 'm', 'o', 'o', 'v')
	require.NoError(t, os.WriteFile(path, broken, 0644))

	err := BoxStrategy().Apply(context.Background(), path, newYorkCapture())
	require.Error(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, broken, after)
}

func TestBoxStrategyRejectsNonMP4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 200), 0644))
	assert.Error(t, BoxStrategy().Apply(context.Background(), path, newYorkCapture()))
}

func TestFFmpegStrategy(t *testing.T) {
	ffmpeg, _ := testutil.RequireFFmpeg(t)
	path := testutil.MakeVideo(t, t.TempDir(), "clip.mp4", 64, 48, 1)

	err := FFmpegStrategy(ffmpeg, time.Minute).Apply(context.Background(), path, newYorkCapture())
	require.NoError(t, err)

	head, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ftyp", string(head[4:8]))
	_, err = os.Stat(filepath.Join(filepath.Dir(path), "clip.temp.mp4"))
	assert.True(t, os.IsNotExist(err))
}

func TestSetFileTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	when := newYorkCapture().Local
	SetFileTimestamps(path, when)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, when.Unix(), info.ModTime().Unix())

	SetFileTimestamps(filepath.Join(t.TempDir(), "missing"), when)
}
