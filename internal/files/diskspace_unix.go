//go:build !windows

package files

import "syscall"

func availableBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	// Available bytes = blocks * size
	return stat.Bavail * uint64(stat.Bsize), nil
}
