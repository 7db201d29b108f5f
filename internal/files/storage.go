package files

import (
	"fmt"
	"os"
	"path/filepath"

	"memories_restore/internal/fileutil"
	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
	"memories_restore/internal/validate"
	"memories_restore/internal/video"
)

// NewFileStorage creates the output directory if needed.
func NewFileStorage(basePath string, minFreeBytes int64) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}
	return &FileStorage{
		BasePath:     basePath,
		MinFreeBytes: minFreeBytes,
	}, nil
}

// GenerateFilePath returns the canonical destination for a manifest item:
// <YYYYMMDD_HHMMSS>_<index><ext>.
func (fs *FileStorage) GenerateFilePath(stamp string, index int, mediaType manifest.MediaType) string {
	return filepath.Join(fs.BasePath, fmt.Sprintf("%s_%d%s", stamp, index, mediaType.Extension()))
}

// FailedDir is where unconvertible originals are preserved.
func (fs *FileStorage) FailedDir() string {
	return filepath.Join(fs.BasePath, video.FailedDirName)
}

// CheckDiskSpace verifies there is room for requiredBytes plus the
// configured headroom.
func (fs *FileStorage) CheckDiskSpace(requiredBytes int64) error {
	if fs.MinFreeBytes <= 0 {
		return nil
	}
	available, err := availableBytes(fs.BasePath)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	needed := uint64(requiredBytes) + uint64(fs.MinFreeBytes)
	if needed > available {
		return fmt.Errorf("insufficient disk space. Required: %d bytes, Available: %d bytes",
			needed, available)
	}
	return nil
}

// FileExists reports whether a usable file already sits at path. Resume mode
// relies on this to skip finished items.
func (fs *FileStorage) FileExists(path string) bool {
	if !fileutil.Exists(path) {
		return false
	}
	if err := validate.CheckMediaFile(path); err != nil {
		logger.Debug.Printf("Existing file %s is not usable: %v", path, err)
		return false
	}
	return true
}

// mergedExts are the extensions archive reconstruction can produce.
var mergedExts = []string{".mp4", ".jpg", ".jpeg", ".png"}

// MergedOutputs returns usable files an earlier run reconstructed from an
// archive captured at stamp. Only the first claimed name (<stamp><ext>) is
// checked: numbered variants share their form with other items' canonical
// names.
func (fs *FileStorage) MergedOutputs(stamp string) []string {
	var found []string
	for _, ext := range mergedExts {
		if path := filepath.Join(fs.BasePath, stamp+ext); fs.FileExists(path) {
			found = append(found, path)
		}
	}
	return found
}
