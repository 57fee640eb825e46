package memolib

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/memobox/memobox/pkg/logger"
)

// Notifier delivers status events toward the connected central. When no
// transport connection is active, implementations drop events silently:
// delivery is best effort, never queued.
type Notifier interface {
	Notify(e Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(e Event)

// Notify calls f.
func (f NotifierFunc) Notify(e Event) { f(e) }

// TransferMeta is the metadata declared by a start frame.
type TransferMeta struct {
	Filename    string
	TotalChunks uint16
	TotalSize   uint32
	ChunkSize   uint16
	ShortHash   string
}

// Session is the state of one in-progress chunked upload. At most one
// session is ever live: a fresh start frame implicitly abandons any
// prior incomplete transfer.
//
// Frame handlers run in the transport's callback context and never touch
// storage; accepted chunks are queued and drained by the polling loop
// through DrainPending, which is where storage I/O happens.
type Session struct {
	mu      sync.Mutex
	storage *StorageRoot
	notify  Notifier
	log     logger.Logger

	meta         *TransferMeta
	stage        *StagedWrite
	expectedSeq  uint32
	bytesWritten int64
	endRequested bool
	queue        [][]byte
}

// NewSession creates a transfer session terminating into storage.
func NewSession(storage *StorageRoot, notify Notifier, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if notify == nil {
		notify = NotifierFunc(func(Event) {})
	}
	return &Session{storage: storage, notify: notify, log: log}
}

// HandleControl processes a write to the control characteristic: either
// the end sentinel, which only flags the outer loop to finalize, or a
// start frame, which opens a new transfer.
func (s *Session) HandleControl(raw []byte) {
	if IsEndFrame(raw) {
		s.mu.Lock()
		s.endRequested = true
		s.mu.Unlock()
		return
	}
	frame, err := DecodeStartFrame(raw)
	if err != nil {
		msg := "invalid frame"
		if errors.Is(err, ErrInvalidSize) {
			msg = "invalid size"
		}
		s.log.Warning("transfer: rejected start frame: %v", err)
		s.notify.Notify(Event{Event: EventStartError, Msg: msg})
		return
	}
	if err := s.storage.CheckSpace(int64(frame.TotalSize)); err != nil {
		s.log.Warning("transfer: %v", err)
		s.notify.Notify(Event{Event: EventStartError, Msg: "insufficient space"})
		return
	}

	s.mu.Lock()
	// A new start abandons any partially received prior file.
	if s.stage != nil {
		s.storage.AbandonStaged(s.stage)
	}
	stage, err := s.storage.BeginStagedWrite(frame.Filename)
	if err != nil {
		s.clearLocked()
		s.mu.Unlock()
		s.log.Error("transfer: cannot open staged write: %v", err)
		s.notify.Notify(Event{Event: EventStartError, Msg: "storage error"})
		return
	}
	s.meta = &TransferMeta{
		Filename:    frame.Filename,
		TotalChunks: frame.TotalChunks,
		TotalSize:   frame.TotalSize,
		ChunkSize:   frame.ChunkSize,
		ShortHash:   frame.ShortHash,
	}
	s.stage = stage
	s.expectedSeq = 0
	s.bytesWritten = 0
	s.endRequested = false
	s.queue = nil
	s.mu.Unlock()

	s.log.Info("transfer: start %s (%d bytes, %d chunks)",
		frame.Filename, frame.TotalSize, frame.TotalChunks)
	s.notify.Notify(Event{Event: EventStartAck})
}

// HandleData processes a write to the data characteristic. A chunk is
// accepted only when its sequence number equals the next expected one;
// on mismatch nothing is mutated and the sender is told via chunk_error.
// Accepted chunks are only queued here; storage I/O is deferred to
// DrainPending. Every even sequence number is acknowledged as a coarse
// flow-control signal.
func (s *Session) HandleData(raw []byte) {
	frame, err := DecodeDataFrame(raw)
	if err != nil {
		s.notify.Notify(Event{Event: EventChunkError, Msg: "short frame"})
		return
	}

	s.mu.Lock()
	if s.meta == nil {
		s.mu.Unlock()
		s.notify.Notify(Event{Event: EventChunkError, Msg: "no active transfer"})
		return
	}
	if frame.Seq != s.expectedSeq {
		expected := s.expectedSeq
		s.mu.Unlock()
		s.log.Warning("transfer: seq mismatch, got %d want %d", frame.Seq, expected)
		s.notify.Notify(Event{Event: EventChunkError, Msg: "seq mismatch"})
		return
	}
	// The transport may reuse its receive buffer; keep our own copy.
	payload := make([]byte, len(frame.Payload))
	copy(payload, frame.Payload)
	s.queue = append(s.queue, payload)
	s.bytesWritten += int64(len(payload))
	s.expectedSeq++
	ack := frame.Seq%2 == 0
	s.mu.Unlock()

	if ack {
		s.notify.Notify(AckEvent(frame.Seq))
	}
}

// HasPendingChunk reports whether accepted chunks await storage I/O.
func (s *Session) HasPendingChunk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}

// PopChunk dequeues the oldest accepted chunk, or returns false when the
// queue is empty.
func (s *Session) PopChunk() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	chunk := s.queue[0]
	s.queue = s.queue[1:]
	return chunk, true
}

// DrainPending appends up to max queued chunks to the staged file. It is
// the polling loop's half of the chunk queue: reception enqueues,
// draining performs the blocking storage I/O. A storage failure abandons
// the whole session.
func (s *Session) DrainPending(max int) error {
	for i := 0; i < max; i++ {
		chunk, ok := s.PopChunk()
		if !ok {
			return nil
		}
		s.mu.Lock()
		stage := s.stage
		s.mu.Unlock()
		if stage == nil {
			return ErrNoSession
		}
		if err := s.storage.AppendStaged(stage, chunk); err != nil {
			s.log.Error("transfer: append failed, abandoning: %v", err)
			s.Abandon()
			return fmt.Errorf("drain chunk: %w", err)
		}
	}
	return nil
}

// EndRequested reports whether the end sentinel was received.
func (s *Session) EndRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endRequested
}

// Active reports whether a transfer is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta != nil
}

// BytesWritten returns the number of payload bytes accepted so far.
func (s *Session) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

// ExpectedSeq returns the next expected chunk sequence number.
func (s *Session) ExpectedSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedSeq
}

// Meta returns a copy of the live transfer's metadata, or nil.
func (s *Session) Meta() *TransferMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil
	}
	meta := *s.meta
	return &meta
}

// Finalize commits the transfer: remaining queued chunks are flushed,
// the staged file is hashed and committed, and the digest is compared
// against the sender's truncated hash. On mismatch the committed file is
// kept (a user-correctable sync failure) and hash_mismatch is notified.
// Either way the session is cleared. Returns the committed filename.
func (s *Session) Finalize() (string, error) {
	// Flush whatever reception queued after the last drain.
	if err := s.DrainPending(int(^uint(0) >> 1)); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.meta == nil || s.stage == nil {
		s.clearLocked()
		s.mu.Unlock()
		return "", ErrNoSession
	}
	meta := *s.meta
	stage := s.stage
	s.mu.Unlock()

	digest, err := s.storage.FinalizeStaged(stage, meta.Filename)
	if err != nil {
		s.log.Error("transfer: finalize failed: %v", err)
		s.Abandon()
		return "", fmt.Errorf("finalize %s: %w", meta.Filename, err)
	}

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	if !strings.HasPrefix(digest, meta.ShortHash) {
		s.log.Warning("transfer: hash mismatch for %s", meta.Filename)
		s.notify.Notify(Event{Event: EventHashMismatch})
		return meta.Filename, ErrHashMismatch
	}
	s.log.Info("transfer: stored %s (%s)", meta.Filename, digest)
	s.notify.Notify(Event{Event: EventStored, SHA256: digest})
	return meta.Filename, nil
}

// Abandon discards the live transfer and its staged bytes.
func (s *Session) Abandon() {
	s.mu.Lock()
	stage := s.stage
	s.clearLocked()
	s.mu.Unlock()
	if stage != nil {
		s.storage.AbandonStaged(stage)
	}
}

// clearLocked resets session state. Callers hold s.mu.
func (s *Session) clearLocked() {
	s.meta = nil
	s.stage = nil
	s.expectedSeq = 0
	s.bytesWritten = 0
	s.endRequested = false
	s.queue = nil
}
