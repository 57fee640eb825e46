package memolib

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Control frame layout (the canonical variable-length-filename form):
//
//	[0x01][totalChunks:2 BE][totalSize:4 BE][chunkSize:2 BE][nameLen:1][name...][hash:8]
//
// The end frame is the single byte 0x02. Data frames carry a 4-byte
// big-endian sequence number followed by the chunk payload.
const (
	FrameTagStart = 0x01
	FrameTagEnd   = 0x02

	startHeaderLen = 10 // tag + chunks + size + chunkSize + nameLen
	minStartLen    = startHeaderLen + ShortHashLen
	dataHeaderLen  = 4
)

// Characteristic tags prefixing each message on the sync link. Central
// writes carry CharControl or CharData; device pushes carry CharStatus.
const (
	CharControl byte = 0x01
	CharData    byte = 0x02
	CharStatus  byte = 0x03
)

// StartFrame is the decoded form of a transfer start control frame.
type StartFrame struct {
	Filename    string
	TotalChunks uint16
	TotalSize   uint32
	ChunkSize   uint16
	// ShortHash is the sender's truncated content hash, hex encoded
	// (ShortHashLen raw bytes, twice that many characters).
	ShortHash string
}

// IsEndFrame reports whether raw is the distinguished end control frame.
func IsEndFrame(raw []byte) bool {
	return len(raw) == 1 && raw[0] == FrameTagEnd
}

// EncodeEndFrame returns the end control frame.
func EncodeEndFrame() []byte {
	return []byte{FrameTagEnd}
}

// DecodeStartFrame parses a start control frame. Validation order: frame
// tag, exact frame length against the declared filename length, then the
// declared total size against (0, MaxFileSize].
func DecodeStartFrame(raw []byte) (*StartFrame, error) {
	if len(raw) < minStartLen || raw[0] != FrameTagStart {
		return nil, ErrInvalidFrame
	}
	nameLen := int(raw[9])
	if len(raw) != startHeaderLen+nameLen+ShortHashLen {
		return nil, fmt.Errorf("%w: bad length", ErrInvalidFrame)
	}
	f := &StartFrame{
		TotalChunks: binary.BigEndian.Uint16(raw[1:3]),
		TotalSize:   binary.BigEndian.Uint32(raw[3:7]),
		ChunkSize:   binary.BigEndian.Uint16(raw[7:9]),
		Filename:    string(raw[startHeaderLen : startHeaderLen+nameLen]),
		ShortHash:   hex.EncodeToString(raw[startHeaderLen+nameLen:]),
	}
	if f.TotalSize == 0 || f.TotalSize > MaxFileSize {
		return nil, ErrInvalidSize
	}
	return f, nil
}

// Encode serializes the start frame. The ShortHash must decode to
// exactly ShortHashLen bytes; longer hex digests are truncated.
func (f *StartFrame) Encode() ([]byte, error) {
	if len(f.Filename) > 0xFF {
		return nil, fmt.Errorf("%w: filename too long", ErrInvalidFrame)
	}
	hash, err := hex.DecodeString(f.ShortHash)
	if err != nil || len(hash) < ShortHashLen {
		return nil, fmt.Errorf("%w: bad short hash", ErrInvalidFrame)
	}
	raw := make([]byte, 0, startHeaderLen+len(f.Filename)+ShortHashLen)
	raw = append(raw, FrameTagStart)
	raw = binary.BigEndian.AppendUint16(raw, f.TotalChunks)
	raw = binary.BigEndian.AppendUint32(raw, f.TotalSize)
	raw = binary.BigEndian.AppendUint16(raw, f.ChunkSize)
	raw = append(raw, byte(len(f.Filename)))
	raw = append(raw, f.Filename...)
	raw = append(raw, hash[:ShortHashLen]...)
	return raw, nil
}

// DataFrame is the decoded form of one chunk write.
type DataFrame struct {
	Seq     uint32
	Payload []byte
}

// DecodeDataFrame parses a data frame. The payload aliases raw.
func DecodeDataFrame(raw []byte) (*DataFrame, error) {
	if len(raw) < dataHeaderLen {
		return nil, ErrShortDataFrame
	}
	return &DataFrame{
		Seq:     binary.BigEndian.Uint32(raw[:dataHeaderLen]),
		Payload: raw[dataHeaderLen:],
	}, nil
}

// EncodeDataFrame serializes one chunk write.
func EncodeDataFrame(seq uint32, payload []byte) []byte {
	raw := make([]byte, 0, dataHeaderLen+len(payload))
	raw = binary.BigEndian.AppendUint32(raw, seq)
	return append(raw, payload...)
}

// Status event names delivered over the status characteristic.
const (
	EventStartAck     = "start_ack"
	EventStartError   = "start_error"
	EventChunkError   = "chunk_error"
	EventAck          = "ack"
	EventStored       = "stored"
	EventHashMismatch = "hash_mismatch"
)

// Event is a structured status notification. Events are JSON so the
// companion app can switch on the event name.
type Event struct {
	Event  string  `json:"event"`
	Msg    string  `json:"msg,omitempty"`
	Seq    *uint32 `json:"seq,omitempty"`
	SHA256 string  `json:"sha256,omitempty"`
}

// MarshalJSONBytes serializes the event for notification delivery.
func (e Event) MarshalJSONBytes() []byte {
	raw, err := json.Marshal(e)
	if err != nil {
		// Event has no unmarshalable fields; this cannot happen.
		return []byte(`{"event":"` + e.Event + `"}`)
	}
	return raw
}

// ParseEvent decodes a status notification.
func ParseEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("status event: %w", err)
	}
	return e, nil
}

// AckEvent builds an ack notification for the given sequence number.
func AckEvent(seq uint32) Event {
	return Event{Event: EventAck, Seq: &seq}
}
