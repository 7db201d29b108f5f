// Package mp4meta edits the iTunes-style metadata list inside an MP4 movie
// box without touching the media data.
//
// Only moov is rewritten. When moov sits in front of mdat, the chunk offset
// tables are shifted by however much moov grew or shrank.
package mp4meta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

const appleMean = "com.apple.quicktime"

// Item keys as reported by Read.
const (
	KeyDay          = "\xa9day"
	KeyCreationDate = "----:" + appleMean + ":creationdate"
	KeyLocation     = "----:" + appleMean + ":location-ISO6709"
	KeyLatitude     = "----:" + appleMean + ":latitude"
	KeyLongitude    = "----:" + appleMean + ":longitude"
)

var (
	ErrMalformed      = errors.New("malformed mp4 box structure")
	ErrNoMovie        = errors.New("no moov box")
	ErrOffsetOverflow = errors.New("chunk offset overflows 32 bits")
)

// Tags is the metadata written into the file.
type Tags struct {
	Created      time.Time // movie header creation instant
	Day          string    // ©day
	CreationDate string    // com.apple.quicktime creationdate
	ISO6709      string    // optional location, e.g. "+40.7128-074.0060/"
	Latitude     string    // optional, decimal degrees
	Longitude    string
}

var containerTypes = map[string]bool{
	"moov": true,
	"trak": true,
	"mdia": true,
	"minf": true,
	"stbl": true,
	"udta": true,
	"edts": true,
	"dinf": true,
	"ilst": true,
}

type atom struct {
	typ       string
	container bool
	prefix    []byte // version and flags of a full-box container
	data      []byte
	children  []*atom
}

type span struct {
	typ    string
	offset int64
	size   int64
}

// Write sets tags on the file at path. The file is rebuilt next to path and
// renamed over it.
func Write(path string, tags Tags) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	moov, err := findMovie(f, info.Size())
	if err != nil {
		return err
	}
	root, err := loadMovie(f, moov)
	if err != nil {
		return err
	}

	setItems(root, tags)
	if !tags.Created.IsZero() {
		setMovieTimes(root, tags.Created)
	}

	delta := int64(root.size()) - moov.size
	if delta != 0 {
		if err := shiftChunkOffsets(root, moov.offset+moov.size, delta); err != nil {
			return err
		}
	}

	tmp := path + ".mp4meta.tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	werr := func() error {
		if _, err := io.Copy(out, io.NewSectionReader(f, 0, moov.offset)); err != nil {
			return err
		}
		if err := root.encode(out); err != nil {
			return err
		}
		tail := moov.offset + moov.size
		_, err := io.Copy(out, io.NewSectionReader(f, tail, info.Size()-tail))
		return err
	}()
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, werr)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Read returns the text items of the moov/udta/meta/ilst list.
func Read(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	moov, err := findMovie(f, info.Size())
	if err != nil {
		return nil, err
	}
	root, err := loadMovie(f, moov)
	if err != nil {
		return nil, err
	}

	items := map[string]string{}
	ilst := root.find("udta", "meta", "ilst")
	if ilst == nil {
		return items, nil
	}
	for _, item := range ilst.children {
		key, value, ok := decodeItem(item)
		if ok {
			items[key] = value
		}
	}
	return items, nil
}

func findMovie(r io.ReaderAt, fileSize int64) (span, error) {
	var off int64
	for off < fileSize {
		b, err := readSpan(r, off, fileSize)
		if err != nil {
			return span{}, err
		}
		if b.typ == "moov" {
			return b, nil
		}
		off += b.size
	}
	return span{}, ErrNoMovie
}

func readSpan(r io.ReaderAt, off, limit int64) (span, error) {
	var h [16]byte
	if _, err := r.ReadAt(h[:8], off); err != nil {
		return span{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	size := int64(binary.BigEndian.Uint32(h[0:4]))
	hdr := int64(8)
	switch size {
	case 0:
		size = limit - off
	case 1:
		if _, err := r.ReadAt(h[8:16], off+8); err != nil {
			return span{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		size = int64(binary.BigEndian.Uint64(h[8:16]))
		hdr = 16
	}
	if size < hdr || off+size > limit {
		return span{}, fmt.Errorf("%w: box %q at %d has size %d", ErrMalformed, string(h[4:8]), off, size)
	}
	return span{typ: string(h[4:8]), offset: off, size: size}, nil
}

func loadMovie(r io.ReaderAt, moov span) (*atom, error) {
	buf := make([]byte, moov.size)
	if _, err := r.ReadAt(buf, moov.offset); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	atoms, err := parseAtoms(buf)
	if err != nil {
		return nil, err
	}
	if len(atoms) != 1 {
		return nil, ErrMalformed
	}
	return atoms[0], nil
}

func parseAtoms(b []byte) ([]*atom, error) {
	var out []*atom
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, ErrMalformed
		}
		size := uint64(binary.BigEndian.Uint32(b[0:4]))
		typ := string(b[4:8])
		hdr := uint64(8)
		switch size {
		case 0:
			size = uint64(len(b))
		case 1:
			if len(b) < 16 {
				return nil, ErrMalformed
			}
			size = binary.BigEndian.Uint64(b[8:16])
			hdr = 16
		}
		if size < hdr || size > uint64(len(b)) {
			return nil, fmt.Errorf("%w: atom %q size %d", ErrMalformed, typ, size)
		}
		payload := b[hdr:size]
		b = b[size:]

		a := &atom{typ: typ}
		switch {
		case typ == "meta":
			a.container = true
			body := payload
			// QuickTime writes meta without version and flags.
			if len(payload) < 8 || string(payload[4:8]) != "hdlr" {
				if len(payload) < 4 {
					return nil, ErrMalformed
				}
				a.prefix, body = payload[:4], payload[4:]
			}
			kids, err := parseAtoms(body)
			if err != nil {
				return nil, err
			}
			a.children = kids
		case containerTypes[typ]:
			a.container = true
			kids, err := parseAtoms(payload)
			if err != nil {
				return nil, err
			}
			a.children = kids
		default:
			a.data = payload
		}
		out = append(out, a)
	}
	return out, nil
}

func (a *atom) bodySize() uint64 {
	n := uint64(len(a.prefix))
	if !a.container {
		return n + uint64(len(a.data))
	}
	for _, c := range a.children {
		n += c.size()
	}
	return n
}

func (a *atom) size() uint64 {
	body := a.bodySize()
	if body+8 > math.MaxUint32 {
		return body + 16
	}
	return body + 8
}

func (a *atom) encode(w io.Writer) error {
	body := a.bodySize()
	var hdr []byte
	if body+8 > math.MaxUint32 {
		hdr = make([]byte, 16)
		binary.BigEndian.PutUint32(hdr[0:4], 1)
		copy(hdr[4:8], a.typ)
		binary.BigEndian.PutUint64(hdr[8:16], body+16)
	} else {
		hdr = make([]byte, 8)
		binary.BigEndian.PutUint32(hdr[0:4], uint32(body+8))
		copy(hdr[4:8], a.typ)
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.Write(a.prefix); err != nil {
		return err
	}
	if !a.container {
		_, err := w.Write(a.data)
		return err
	}
	for _, c := range a.children {
		if err := c.encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (a *atom) child(typ string) *atom {
	for _, c := range a.children {
		if c.typ == typ {
			return c
		}
	}
	return nil
}

func (a *atom) find(path ...string) *atom {
	cur := a
	for _, typ := range path {
		if cur = cur.child(typ); cur == nil {
			return nil
		}
	}
	return cur
}

func (a *atom) ensure(typ string, build func() *atom) *atom {
	if c := a.child(typ); c != nil {
		return c
	}
	c := build()
	a.children = append(a.children, c)
	return c
}

func container(typ string, children ...*atom) *atom {
	return &atom{typ: typ, container: true, children: children}
}

func leaf(typ string, data []byte) *atom {
	return &atom{typ: typ, data: data}
}

func handler() *atom {
	data := make([]byte, 0, 25)
	data = append(data, 0, 0, 0, 0) // version, flags
	data = append(data, 0, 0, 0, 0) // pre_defined
	data = append(data, "mdir"...)
	data = append(data, "appl"...)
	data = append(data, make([]byte, 8)...)
	data = append(data, 0) // empty name
	return leaf("hdlr", data)
}

func dataAtom(value string) *atom {
	data := []byte{0, 0, 0, 1, 0, 0, 0, 0} // UTF-8, default locale
	return leaf("data", append(data, value...))
}

func fullLeaf(typ, value string) *atom {
	return leaf(typ, append([]byte{0, 0, 0, 0}, value...))
}

func textItem(typ, value string) *atom {
	item := container(typ, dataAtom(value))
	return item.flatten()
}

func freeformItem(name, value string) *atom {
	item := container("----", fullLeaf("mean", appleMean), fullLeaf("name", name), dataAtom(value))
	return item.flatten()
}

// flatten turns a built item into a leaf so ilst children are uniform.
func (a *atom) flatten() *atom {
	var buf bytes.Buffer
	for _, c := range a.children {
		c.encode(&buf)
	}
	return leaf(a.typ, buf.Bytes())
}

func decodeItem(item *atom) (key, value string, ok bool) {
	parts, err := parseAtoms(item.data)
	if err != nil {
		return "", "", false
	}
	var mean, name string
	for _, p := range parts {
		switch p.typ {
		case "mean":
			if len(p.data) >= 4 {
				mean = string(p.data[4:])
			}
		case "name":
			if len(p.data) >= 4 {
				name = string(p.data[4:])
			}
		case "data":
			if len(p.data) >= 8 {
				value = string(p.data[8:])
				ok = true
			}
		}
	}
	if item.typ == "----" {
		key = "----:" + mean + ":" + name
	} else {
		key = item.typ
	}
	return key, value, ok
}

func setItems(moov *atom, tags Tags) {
	udta := moov.ensure("udta", func() *atom { return container("udta") })
	meta := udta.ensure("meta", func() *atom {
		m := container("meta", handler())
		m.prefix = []byte{0, 0, 0, 0}
		return m
	})
	if meta.child("hdlr") == nil {
		meta.children = append([]*atom{handler()}, meta.children...)
	}
	ilst := meta.ensure("ilst", func() *atom { return container("ilst") })

	put := func(item *atom) {
		key, _, _ := decodeItem(item)
		for i, existing := range ilst.children {
			if k, _, _ := decodeItem(existing); k == key {
				ilst.children[i] = item
				return
			}
		}
		ilst.children = append(ilst.children, item)
	}

	if tags.Day != "" {
		put(textItem(KeyDay, tags.Day))
	}
	if tags.CreationDate != "" {
		put(freeformItem("creationdate", tags.CreationDate))
	}
	if tags.ISO6709 != "" {
		put(freeformItem("location-ISO6709", tags.ISO6709))
	}
	if tags.Latitude != "" && tags.Longitude != "" {
		put(freeformItem("latitude", tags.Latitude))
		put(freeformItem("longitude", tags.Longitude))
	}
}

var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

func setMovieTimes(moov *atom, created time.Time) {
	mvhd := moov.child("mvhd")
	if mvhd == nil || len(mvhd.data) < 12 {
		return
	}
	secs := uint64(created.UTC().Sub(macEpoch) / time.Second)
	data := append([]byte(nil), mvhd.data...)
	switch data[0] {
	case 0:
		binary.BigEndian.PutUint32(data[4:8], uint32(secs))
		binary.BigEndian.PutUint32(data[8:12], uint32(secs))
	case 1:
		if len(data) < 20 {
			return
		}
		binary.BigEndian.PutUint64(data[4:12], secs)
		binary.BigEndian.PutUint64(data[12:20], secs)
	default:
		return
	}
	mvhd.data = data
}

// shiftChunkOffsets moves every chunk offset at or beyond after by delta.
func shiftChunkOffsets(a *atom, after, delta int64) error {
	for _, c := range a.children {
		switch c.typ {
		case "stco":
			if err := shiftTable(c, after, delta, 4); err != nil {
				return err
			}
		case "co64":
			if err := shiftTable(c, after, delta, 8); err != nil {
				return err
			}
		default:
			if c.container {
				if err := shiftChunkOffsets(c, after, delta); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func shiftTable(a *atom, after, delta int64, width int) error {
	if len(a.data) < 8 {
		return ErrMalformed
	}
	n := int(binary.BigEndian.Uint32(a.data[4:8]))
	if len(a.data) < 8+n*width {
		return ErrMalformed
	}
	data := append([]byte(nil), a.data...)
	for i := 0; i < n; i++ {
		pos := 8 + i*width
		if width == 4 {
			off := int64(binary.BigEndian.Uint32(data[pos:]))
			if off < after {
				continue
			}
			moved := off + delta
			if moved < 0 || moved > math.MaxUint32 {
				return ErrOffsetOverflow
			}
			binary.BigEndian.PutUint32(data[pos:], uint32(moved))
			continue
		}
		off := int64(binary.BigEndian.Uint64(data[pos:]))
		if off < after {
			continue
		}
		binary.BigEndian.PutUint64(data[pos:], uint64(off+delta))
	}
	a.data = data
	return nil
}
