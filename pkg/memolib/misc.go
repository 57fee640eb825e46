// Package memolib provides the core library of the memobox talking-box
// device: the durable storage layer, the memo schedule schema, and the
// chunked file-transfer protocol spoken over the wireless link.
package memolib

import "io/fs"

// Size unit constants for byte conversions.
const (
	// B represents one byte.
	B int64 = 1
	// KB represents one kilobyte (1024 bytes).
	KB = 1024 * B
	// MB represents one megabyte (1024 kilobytes).
	MB = 1024 * KB
)

const (
	// DeviceName is the name advertised on the wireless link.
	DeviceName = "MEMO - TALKING BOX"

	// MaxFileSize is the largest file a start frame may declare.
	MaxFileSize = 8_000_000

	// DefaultChunkSize is the payload size senders are expected to use.
	DefaultChunkSize = 512

	// ShortHashLen is the number of leading digest bytes carried in a
	// start frame (16 hex characters once encoded).
	ShortHashLen = 8
)

const (
	// AudioDir is the binary asset namespace under the storage root.
	AudioDir = "audio"
	// RecordDir is the structured record namespace under the storage root.
	RecordDir = "records"

	// StagingPrefix marks files of in-flight staged writes. It never
	// appears in a completed filename.
	StagingPrefix = "tmp_"

	// RecordSuffix identifies structured records by filename.
	RecordSuffix = ".json"

	// MemoRecordName is the schedule record maintained by the sync client
	// and read by the schedule engine.
	MemoRecordName = "memo.json"
)

// DefaultFileMode is the permission mode for files created on the medium.
const DefaultFileMode fs.FileMode = 0o644

// DefaultDirMode is the permission mode for namespace directories.
const DefaultDirMode fs.FileMode = 0o755
