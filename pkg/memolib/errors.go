package memolib

import "errors"

var (
	// ErrInvalidFrame indicates a control frame with a bad tag or a length
	// that does not match its declared filename length.
	ErrInvalidFrame = errors.New("invalid control frame")
	// ErrInvalidSize indicates a start frame declaring a total size outside
	// the accepted (0, MaxFileSize] range.
	ErrInvalidSize = errors.New("declared file size is invalid")
	// ErrShortDataFrame indicates a data frame shorter than its sequence header.
	ErrShortDataFrame = errors.New("data frame is too short")
	// ErrSequenceMismatch indicates a data frame whose sequence number does
	// not match the next expected one. The frame is dropped.
	ErrSequenceMismatch = errors.New("chunk sequence mismatch")

	// ErrStagingConflict indicates a staged write was opened while another
	// one is still in flight.
	ErrStagingConflict = errors.New("a staged write is already open")
	// ErrNoActiveStage indicates a staged operation with no open stage.
	ErrNoActiveStage = errors.New("no staged write is open")
	// ErrStagedName indicates a final filename carrying the staging prefix.
	ErrStagedName = errors.New("filename carries the staging prefix")

	// ErrHashMismatch indicates a committed file whose content hash does not
	// match the hash declared by the sender. The file is kept.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrNoSession indicates a session operation with no transfer in progress.
	ErrNoSession = errors.New("no transfer session is active")

	// ErrInsufficientSpace indicates the active medium cannot hold the
	// declared transfer size.
	ErrInsufficientSpace = errors.New("insufficient space on storage medium")

	// ErrMediumUnavailable indicates a storage medium that could not be
	// probed at mount time. Mount absorbs it by falling back.
	ErrMediumUnavailable = errors.New("storage medium unavailable")
)
