//go:build !windows

package memolib

import "syscall"

// FreeSpace reports the bytes available on the active medium, or -1 when
// it cannot be determined (memory-backed roots have no meaningful answer).
func (s *StorageRoot) FreeSpace() int64 {
	if s.basePath == "" {
		return -1
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.basePath, &stat); err != nil {
		return -1
	}
	// Bavail is available blocks for unprivileged users.
	return int64(stat.Bavail) * int64(stat.Bsize)
}

// CheckSpace verifies the active medium can hold requiredBytes. An
// unreadable free-space figure is not a failure; rejecting a transfer
// outright is worse than letting a later append fail.
func (s *StorageRoot) CheckSpace(requiredBytes int64) error {
	if requiredBytes <= 0 {
		return nil
	}
	free := s.FreeSpace()
	if free < 0 {
		return nil
	}
	if free < requiredBytes {
		return ErrInsufficientSpace
	}
	return nil
}
