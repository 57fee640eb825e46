package memocli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/memobox/memobox/internal/gatt"
	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

// startTestDevice runs a sync service plus the daemon-side pump that
// drains queued chunks and finalizes when the end sentinel arrives.
func startTestDevice(t *testing.T) (*memolib.StorageRoot, string, func()) {
	t.Helper()
	storage := memolib.NewMemStorage()
	svc := gatt.NewService(storage, logger.NewNopLogger())
	srv := httptest.NewServer(svc.Handler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync"

	stop := make(chan struct{})
	go func() {
		sess := svc.Session()
		for {
			select {
			case <-stop:
				return
			default:
			}
			sess.DrainPending(4)
			if sess.EndRequested() {
				sess.Finalize()
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return storage, wsURL, func() {
		close(stop)
		srv.Close()
	}
}

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestSendFileRoundTrip(t *testing.T) {
	storage, wsURL, cleanup := startTestDevice(t)
	defer cleanup()

	content := bytes.Repeat([]byte("talking box audio "), 100)
	path := writeTempFile(t, "greeting.mp3", content)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var acks int
	var lastSent int64
	res, err := c.SendFile(ctx, path, &SendOptions{
		ChunkSize: 64,
		OnAck: func(seq uint32, sent, total int64) {
			acks++
			if sent < lastSent {
				t.Errorf("ack progress went backward: %d after %d", sent, lastSent)
			}
			lastSent = sent
			if total != int64(len(content)) {
				t.Errorf("ack total = %d, want %d", total, len(content))
			}
		},
	})
	if err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	if res.Filename != "greeting.mp3" {
		t.Errorf("filename = %q, want greeting.mp3", res.Filename)
	}
	if res.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", res.Size, len(content))
	}
	sum := sha256.Sum256(content)
	if res.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 = %q, want %q", res.SHA256, hex.EncodeToString(sum[:]))
	}
	if acks == 0 {
		t.Error("OnAck never called")
	}

	f, err := storage.OpenAsset("greeting.mp3")
	if err != nil {
		t.Fatalf("asset missing on device: %v", err)
	}
	defer f.Close()
	var got bytes.Buffer
	if _, err := got.ReadFrom(f); err != nil {
		t.Fatalf("read stored asset: %v", err)
	}
	if !bytes.Equal(got.Bytes(), content) {
		t.Error("stored content differs from sent content")
	}
}

func TestSendFileRecordTriggersValidation(t *testing.T) {
	storage, wsURL, cleanup := startTestDevice(t)
	defer cleanup()

	mf := memolib.MemoFile{
		Version: memolib.MemoFileVersion,
		Items: []memolib.Memo{
			{MemoID: "m1", StartDate: "2026-02-01", Time: "09:30"},
		},
	}
	raw, err := json.Marshal(mf)
	if err != nil {
		t.Fatalf("marshal memo file: %v", err)
	}
	path := writeTempFile(t, memolib.MemoRecordName, raw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.SendFile(ctx, path, nil); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	got := memolib.ReadRecordOrDefault(storage, memolib.MemoRecordName, memolib.MemoFile{})
	if len(got.Items) != 1 || got.Items[0].MemoID != "m1" {
		t.Errorf("record not committed: %+v", got)
	}
}

func TestSendFileRejectsEmpty(t *testing.T) {
	_, wsURL, cleanup := startTestDevice(t)
	defer cleanup()

	path := writeTempFile(t, "empty.mp3", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.SendFile(ctx, path, nil); !errors.Is(err, memolib.ErrInvalidSize) {
		t.Errorf("SendFile error = %v, want ErrInvalidSize", err)
	}
}

func TestSendFileMissingPath(t *testing.T) {
	_, wsURL, cleanup := startTestDevice(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.SendFile(ctx, filepath.Join(t.TempDir(), "nope.mp3"), nil); err == nil {
		t.Error("SendFile on missing path succeeded")
	}
}
