package metadata

import (
	"errors"
	"fmt"
	"os"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"github.com/gabriel-vasile/mimetype"
	goexif "github.com/rwcarlsen/goexif/exif"

	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// ExifWriter stamps capture time and GPS into JPEG files.
type ExifWriter struct{}

// Write returns false without error when path is not a JPEG.
func (w *ExifWriter) Write(path string, c Capture) (bool, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}
	if !mtype.Is("image/jpeg") {
		logger.Debug.Printf("Skipping EXIF for %s (%s)", path, mtype.String())
		return false, nil
	}

	err = fileutil.Update(path, func(p string) error {
		return writeExif(p, c)
	}, VerifyExif)
	if err != nil {
		return false, err
	}
	return true, nil
}

// VerifyExif checks that path still decodes with an EXIF block.
func VerifyExif(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := goexif.Decode(f); err != nil {
		return fmt.Errorf("exif unreadable: %w", err)
	}
	return nil
}

func writeExif(path string, c Capture) (err error) {
	// The EXIF library reports some malformed input by panicking.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exif encoder failed: %v", r)
		}
	}()

	intfc, err := jpegstructure.NewJpegMediaParser().ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse jpeg: %w", err)
	}
	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return errors.New("unexpected jpeg parser result")
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		logger.Debug.Printf("No usable EXIF in %s, starting empty: %v", path, err)
		im, err := exifcommon.NewIfdMappingWithStandard()
		if err != nil {
			return err
		}
		rootIb = exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	stamp := c.Local.Format(exifTimeLayout)

	ifd0, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return err
	}
	if err := ifd0.SetStandardWithName("DateTime", stamp); err != nil {
		return err
	}

	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return err
	}
	for _, name := range []string{"DateTimeOriginal", "DateTimeDigitized"} {
		if err := exifIb.SetStandardWithName(name, stamp); err != nil {
			return err
		}
	}
	if c.Offset != "" {
		// Offset tags belong to the Exif sub-IFD only.
		for _, name := range []string{"OffsetTimeOriginal", "OffsetTimeDigitized"} {
			if err := exifIb.SetStandardWithName(name, c.Offset); err != nil {
				logger.Debug.Printf("Failed to set %s on %s: %v", name, path, err)
			}
		}
	}

	if c.HasGPS {
		if err := setGPS(rootIb, c.Lat, c.Lon); err != nil {
			return err
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("failed to attach exif: %w", err)
	}

	tmp := fileutil.UniqueTempPath(path)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := sl.Write(f); err != nil {
		f.Close()
		fileutil.Cleanup(tmp)
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	if err := f.Close(); err != nil {
		fileutil.Cleanup(tmp)
		return err
	}
	if err := fileutil.ReplaceFile(tmp, path); err != nil {
		fileutil.Cleanup(tmp)
		return err
	}
	return nil
}

func setGPS(rootIb *exif.IfdBuilder, lat, lon float64) error {
	gps, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/GPSInfo")
	if err != nil {
		return err
	}

	latRef, lonRef := "N", "E"
	if lat < 0 {
		latRef = "S"
	}
	if lon < 0 {
		lonRef = "W"
	}

	fields := []struct {
		name  string
		value interface{}
	}{
		{"GPSVersionID", []uint8{2, 2, 0, 0}},
		{"GPSLatitudeRef", latRef},
		{"GPSLatitude", rationals(lat)},
		{"GPSLongitudeRef", lonRef},
		{"GPSLongitude", rationals(lon)},
	}
	for _, f := range fields {
		if err := gps.SetStandardWithName(f.name, f.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", f.name, err)
		}
	}
	return nil
}

func rationals(decimal float64) []exifcommon.Rational {
	d, m, cs := DMS(decimal)
	return []exifcommon.Rational{
		{Numerator: d, Denominator: 1},
		{Numerator: m, Denominator: 1},
		{Numerator: cs, Denominator: 100},
	}
}
