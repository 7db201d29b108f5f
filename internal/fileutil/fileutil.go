// Package fileutil holds the filesystem primitives shared by the pipeline:
// unique staging names, atomic replacement, backup-guarded mutation and
// collision-free naming.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"memories_restore/internal/logger"
)

const backupSuffix = ".backup"

// UniqueTempPath returns a sibling of dest that no other worker will pick.
func UniqueTempPath(dest string) string {
	return fmt.Sprintf("%s.tmp_%s_%d", dest, uuid.NewString()[:8], time.Now().UnixMilli())
}

// StagingPath returns a sibling of path that keeps its extension, for tools
// that pick the container format from the output name.
func StagingPath(path, tag string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + tag + ext
}

// ReplaceFile moves src over dst in a single rename.
func ReplaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// Update runs mutate against path while a full copy of the original sits at
// path.backup. If mutate or verify fails the original is restored.
func Update(path string, mutate func(path string) error, verify func(path string) error) (err error) {
	backup := path + backupSuffix
	if err := CopyFile(path, backup); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	defer func() {
		if err == nil {
			Cleanup(backup)
			return
		}
		if rerr := os.Rename(backup, path); rerr != nil {
			logger.Error.Printf("Failed to restore %s from backup: %v", path, rerr)
			err = errors.Join(err, rerr)
		}
	}()

	if err := mutate(path); err != nil {
		return err
	}
	if verify != nil {
		if err := verify(path); err != nil {
			return fmt.Errorf("verification failed after update: %w", err)
		}
	}
	return nil
}

// CopyFile copies src to dst, keeping the mode and modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// ClaimName reserves the first free name in dir of the form stem+ext,
// stem_1+ext, stem_2+ext and so on. The name is reserved by creating an empty
// placeholder exclusively, so concurrent workers never receive the same
// path; callers rename their file over the placeholder.
func ClaimName(dir, stem, ext string) (string, error) {
	for i := 0; i < 10000; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to reserve %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no free name for %s%s in %s", stem, ext, dir)
}

// SanitizePath strips stray trailing braces and whitespace that creep into
// pasted paths and returns the absolute form. Empty input stays empty.
func SanitizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.TrimRight(strings.TrimSpace(p), "{} \t")
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// Exists reports whether something is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Size returns the size of path, or -1 when it cannot be read.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// Cleanup removes path, logging rather than returning failures.
func Cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug.Printf("Failed to cleanup file %s: %v", path, err)
	}
}
