// Package memocli is the host side of the talking box's sync link: it
// dials the device, pushes files over the chunked transfer protocol,
// and queries the daemon's control API.
package memocli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cws "github.com/coder/websocket"

	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

// ErrRejected is returned when the device refuses a transfer start.
var ErrRejected = errors.New("device rejected transfer")

// readLimit mirrors the device side: tag + event JSON stays tiny, but
// keep headroom.
const readLimit = 16 * memolib.KB

// Client is one connection to a device's sync endpoint.
type Client struct {
	conn *cws.Conn
	log  logger.Logger
}

// Dial connects to the device sync endpoint at url (ws://host:port/sync).
func Dial(ctx context.Context, url string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	conn, _, err := cws.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error connecting to device: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return &Client{conn: conn, log: log}, nil
}

// Close shuts down the connection with a normal closure status.
func (c *Client) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

// SendOptions tunes a SendFile call.
type SendOptions struct {
	// ChunkSize is the payload size per data frame. Defaults to
	// memolib.DefaultChunkSize.
	ChunkSize uint16
	// OnAck, when set, is called for each device acknowledgement with
	// the acked sequence number and cumulative payload bytes delivered
	// up to and including that chunk.
	OnAck func(seq uint32, sent int64, total int64)
}

// SendResult describes a completed transfer.
type SendResult struct {
	Filename string
	SHA256   string
	Size     int64
	Chunks   int
}

// SendFile pushes the file at path to the device: start frame, data
// frames in sequence, end frame, then the device's final verdict. The
// stored name is the file's base name.
func (c *Client) SendFile(ctx context.Context, path string, opts *SendOptions) (*SendResult, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = memolib.DefaultChunkSize
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(content) == 0 || len(content) > memolib.MaxFileSize {
		return nil, fmt.Errorf("%s: %w", path, memolib.ErrInvalidSize)
	}
	name := filepath.Base(path)
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])
	chunks := (len(content) + int(chunkSize) - 1) / int(chunkSize)

	start, err := (&memolib.StartFrame{
		Filename:    name,
		TotalChunks: uint16(chunks),
		TotalSize:   uint32(len(content)),
		ChunkSize:   chunkSize,
		ShortHash:   digest[:memolib.ShortHashLen*2],
	}).Encode()
	if err != nil {
		return nil, err
	}
	if err := c.writeChar(ctx, memolib.CharControl, start); err != nil {
		return nil, err
	}
	e, err := c.readEvent(ctx)
	if err != nil {
		return nil, err
	}
	if e.Event != memolib.EventStartAck {
		return nil, fmt.Errorf("%w: %s", ErrRejected, e.Msg)
	}
	c.log.Info("sync: sending %s (%d bytes, %d chunks)", name, len(content), chunks)

	var seq uint32
	var sent int64
	for off := 0; off < len(content); off += int(chunkSize) {
		end := off + int(chunkSize)
		if end > len(content) {
			end = len(content)
		}
		payload := content[off:end]
		if err := c.writeChar(ctx, memolib.CharData, memolib.EncodeDataFrame(seq, payload)); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", seq, err)
		}
		sent += int64(len(payload))
		// Even sequence numbers are acknowledged; wait for each ack so
		// the device's receive queue stays bounded.
		if seq%2 == 0 {
			ack, err := c.readEvent(ctx)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", seq, err)
			}
			if ack.Event != memolib.EventAck {
				return nil, fmt.Errorf("chunk %d: device reported %s: %s", seq, ack.Event, ack.Msg)
			}
			if opts.OnAck != nil {
				opts.OnAck(seq, sent, int64(len(content)))
			}
		}
		seq++
	}

	if err := c.writeChar(ctx, memolib.CharControl, memolib.EncodeEndFrame()); err != nil {
		return nil, err
	}
	final, err := c.readEvent(ctx)
	if err != nil {
		return nil, err
	}
	switch final.Event {
	case memolib.EventStored:
		return &SendResult{
			Filename: name,
			SHA256:   final.SHA256,
			Size:     int64(len(content)),
			Chunks:   chunks,
		}, nil
	case memolib.EventHashMismatch:
		return nil, memolib.ErrHashMismatch
	default:
		return nil, fmt.Errorf("unexpected final event %s: %s", final.Event, final.Msg)
	}
}

func (c *Client) writeChar(ctx context.Context, tag byte, frame []byte) error {
	msg := append([]byte{tag}, frame...)
	return c.conn.Write(ctx, cws.MessageBinary, msg)
}

// readEvent reads the next status notification, skipping anything that
// is not a status frame.
func (c *Client) readEvent(ctx context.Context) (memolib.Event, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return memolib.Event{}, fmt.Errorf("error reading: %w", err)
		}
		if len(data) < 1 || data[0] != memolib.CharStatus {
			continue
		}
		return memolib.ParseEvent(data[1:])
	}
}
