package memocli

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/memobox/memobox/internal/scheduler"
	"github.com/memobox/memobox/internal/server"
	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

func dialProbe(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}

func startTestDaemonRPC(t *testing.T) (*memolib.StorageRoot, string) {
	t.Helper()
	storage := memolib.NewMemStorage()
	engine := scheduler.New(storage, scheduler.SystemClock{}, nil, logger.NewNopLogger())
	rs := server.NewRPCServer("0.0.1", storage, engine, nil, logger.NewNopLogger())
	sock := filepath.Join(t.TempDir(), "memobox.sock")
	go rs.ListenAndServe(sock)
	t.Cleanup(rs.Close)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if conn, err := dialProbe(sock); err == nil {
			conn.Close()
			return storage, sock
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket never came up")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControlStatusAndReload(t *testing.T) {
	storage, sock := startTestDaemonRPC(t)

	ctl, err := DialControl(sock)
	if err != nil {
		t.Fatalf("DialControl: %v", err)
	}
	defer ctl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := ctl.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Device != memolib.DeviceName || st.Version != "0.0.1" {
		t.Errorf("unexpected status: %+v", st)
	}

	mf := memolib.MemoFile{
		Version: memolib.MemoFileVersion,
		Items: []memolib.Memo{
			{MemoID: "m1", StartDate: "2026-02-01", Time: "09:30"},
			{MemoID: "m2", StartDate: "2026-03-01", Time: "18:00"},
		},
	}
	if err := storage.WriteRecord(memolib.MemoRecordName, mf); err != nil {
		t.Fatalf("write memo record: %v", err)
	}

	n, err := ctl.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if n != 2 {
		t.Errorf("Reload count = %d, want 2", n)
	}

	memos, err := ctl.Memos(ctx)
	if err != nil {
		t.Fatalf("Memos: %v", err)
	}
	if len(memos) != 2 || memos[0].MemoID != "m1" {
		t.Errorf("unexpected memo list: %+v", memos)
	}

	stats, err := ctl.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.AssetCount != 0 {
		t.Errorf("asset count = %d, want 0", stats.AssetCount)
	}
}
