// Package validate decides whether a file on disk is a usable photo or video
// by its leading bytes, independent of its extension.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"memories_restore/internal/logger"
	"memories_restore/internal/probe"
)

// MinFileSize is the floor below which a download is never accepted.
const MinFileSize = 100

// MinVideoSize is the floor for re-encoded or merged videos.
const MinVideoSize = 1000

// HeadSize is how many leading bytes the sniffers look at.
const HeadSize = 32

var (
	ErrTooSmall    = errors.New("file too small")
	ErrNotFound    = errors.New("file does not exist")
	ErrHTMLPayload = errors.New("payload is an HTML page")
	ErrUnknownType = errors.New("unrecognized media signature")
)

// Kind is the content family recognized from a file signature.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindMP4
	KindZIP
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindMP4:
		return "mp4"
	case KindZIP:
		return "zip"
	case KindHTML:
		return "html"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind is a photo or video the pipeline keeps.
func (k Kind) IsMedia() bool {
	return k == KindJPEG || k == KindPNG || k == KindMP4
}

var (
	jpegMagic = []byte{0xFF, 0xD8} // SOI; the marker byte that follows varies
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
)

// mp4Boxes are the top-level box types accepted at offset 4.
var mp4Boxes = [][]byte{
	[]byte("ftyp"),
	[]byte("mdat"),
	[]byte("moov"),
	[]byte("wide"),
}

// Classify recognizes a payload from its first bytes.
func Classify(head []byte) Kind {
	switch {
	case bytes.HasPrefix(head, jpegMagic):
		return KindJPEG
	case bytes.HasPrefix(head, pngMagic):
		return KindPNG
	case bytes.HasPrefix(head, zipMagic):
		return KindZIP
	case HasMP4Signature(head):
		return KindMP4
	case IsHTML(head):
		return KindHTML
	}
	return KindUnknown
}

// HasMP4Signature checks for an ISO base media box type at offset 4.
func HasMP4Signature(head []byte) bool {
	if len(head) < 8 {
		return false
	}
	for _, box := range mp4Boxes {
		if bytes.Equal(head[4:8], box) {
			return true
		}
	}
	return false
}

// IsHTML reports whether the first bytes look like an HTML document, which
// is what the export service returns for expired links.
func IsHTML(head []byte) bool {
	if len(head) > HeadSize {
		head = head[:HeadSize]
	}
	lower := bytes.ToLower(bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf"))
	return bytes.HasPrefix(lower, []byte("<!doc")) ||
		bytes.HasPrefix(lower, []byte("<html")) ||
		bytes.Contains(lower, []byte("<html")) ||
		bytes.Contains(lower, []byte("<!doctype"))
}

// ReadHead returns up to n leading bytes of path.
func ReadHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// CheckMediaFile returns nil when path exists, holds at least MinFileSize
// bytes and carries a JPEG, PNG, MP4 or ZIP signature.
func CheckMediaFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return ErrNotFound
	}
	if info.Size() < MinFileSize {
		return fmt.Errorf("%w: %d bytes", ErrTooSmall, info.Size())
	}

	head, err := ReadHead(path, HeadSize)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	kind := Classify(head)
	if kind == KindHTML {
		return ErrHTMLPayload
	}
	// A ZIP is a valid payload: captioned snaps arrive as archives.
	if !kind.IsMedia() && kind != KindZIP {
		return ErrUnknownType
	}
	return nil
}

// IsValidMediaFile is the boolean form of CheckMediaFile.
func IsValidMediaFile(path string) bool {
	err := CheckMediaFile(path)
	if err != nil {
		logger.Debug.Printf("Media validation failed for %s: %v", path, err)
	}
	return err == nil
}

// VideoInfo records what video validation learned about a file.
type VideoInfo struct {
	Size     int64
	HasVideo bool
	Duration float64
	Codec    string
	Width    int
	Height   int
	Probed   bool
	Error    string
}

// VideoOptions tunes IsValidVideoFile.
type VideoOptions struct {
	MinSize     int64
	MinDuration float64
	Prober      probe.Prober
}

// IsValidVideoFile checks size and, when a prober is supplied, that the file
// has a video stream of at least MinDuration seconds. Without a prober, or if
// probing fails, the size check alone decides.
func IsValidVideoFile(ctx context.Context, path string, opts VideoOptions) (bool, VideoInfo) {
	var vi VideoInfo

	info, err := os.Stat(path)
	if err != nil {
		vi.Error = "does not exist"
		return false, vi
	}
	vi.Size = info.Size()

	minSize := opts.MinSize
	if minSize <= 0 {
		minSize = MinVideoSize
	}
	if vi.Size < minSize {
		vi.Error = "too small"
		return false, vi
	}

	if opts.Prober == nil {
		return true, vi
	}

	pi, err := opts.Prober.Probe(ctx, path)
	if err != nil {
		logger.Debug.Printf("Probe unavailable for %s, accepting on size: %v", path, err)
		return true, vi
	}

	vi.Probed = true
	vi.HasVideo = pi.HasVideo
	vi.Duration = pi.Duration
	vi.Codec = pi.Codec
	vi.Width, vi.Height = pi.DisplaySize()

	if !pi.HasVideo {
		vi.Error = "no video stream"
		return false, vi
	}
	if pi.Duration < opts.MinDuration {
		vi.Error = fmt.Sprintf("duration %.2fs below %.2fs", pi.Duration, opts.MinDuration)
		return false, vi
	}
	return true, vi
}
