// Package server exposes the daemon's local control API: a JSON-RPC 2.0
// surface over a unix socket for host tooling to query device state,
// list memos, and reload the schedule.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"

	"github.com/memobox/memobox/internal/scheduler"
	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

const codeInvalidParams = jrpc2.Code(-32602)

// LinkStatus is the sync-link view the status method reports on.
type LinkStatus interface {
	Connected() bool
	Session() *memolib.Session
}

// StatusResult is the response for device.status.
type StatusResult struct {
	Device         string `json:"device"`
	Version        string `json:"version"`
	Backend        string `json:"backend"`
	Connected      bool   `json:"connected"`
	TransferActive bool   `json:"transferActive"`
	TransferBytes  int64  `json:"transferBytes"`
	TransferFile   string `json:"transferFile,omitempty"`
}

// MemoItem is a single entry in the memo.list response.
type MemoItem struct {
	MemoID       string `json:"memoId"`
	Title        string `json:"title,omitempty"`
	StartDate    string `json:"startDate"`
	Time         string `json:"time"`
	Frequency    string `json:"frequency,omitempty"`
	AudioFile    string `json:"audioFile,omitempty"`
	TriggerCount int    `json:"triggerCount"`
}

// MemosResult is the response for memo.list.
type MemosResult struct {
	Memos []MemoItem `json:"memos"`
}

// ReloadResult is the response for schedule.reload.
type ReloadResult struct {
	Count int `json:"count"`
}

// StatsResult is the response for storage.stats.
type StatsResult struct {
	Backend    string   `json:"backend"`
	FreeSpace  int64    `json:"freeSpace"`
	AssetCount int      `json:"assetCount"`
	Assets     []string `json:"assets,omitempty"`
}

// RPCServer serves the control methods to one client per connection
// over a unix socket.
type RPCServer struct {
	version string
	storage *memolib.StorageRoot
	engine  *scheduler.Engine
	link    LinkStatus
	log     logger.Logger

	methods handler.Map

	mu      sync.Mutex
	lst     net.Listener
	closed  bool
	servers map[*jrpc2.Server]struct{}
	wg      sync.WaitGroup
}

// NewRPCServer creates the control API with its method handlers bound.
func NewRPCServer(version string, storage *memolib.StorageRoot, engine *scheduler.Engine, link LinkStatus, log logger.Logger) *RPCServer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	rs := &RPCServer{
		version: version,
		storage: storage,
		engine:  engine,
		link:    link,
		log:     log,
		servers: make(map[*jrpc2.Server]struct{}),
	}
	rs.methods = handler.Map{
		"device.status":   handler.New(rs.deviceStatus),
		"memo.list":       handler.New(rs.memoList),
		"schedule.reload": handler.New(rs.scheduleReload),
		"storage.stats":   handler.New(rs.storageStats),
	}
	return rs
}

func (rs *RPCServer) deviceStatus(_ context.Context) (*StatusResult, error) {
	res := &StatusResult{
		Device:  memolib.DeviceName,
		Version: rs.version,
		Backend: rs.storage.Backend().String(),
	}
	if rs.link != nil {
		res.Connected = rs.link.Connected()
		if sess := rs.link.Session(); sess != nil {
			res.TransferActive = sess.Active()
			res.TransferBytes = sess.BytesWritten()
			if meta := sess.Meta(); meta != nil {
				res.TransferFile = meta.Filename
			}
		}
	}
	return res, nil
}

func (rs *RPCServer) memoList(_ context.Context) (*MemosResult, error) {
	memos := rs.engine.Memos()
	res := &MemosResult{Memos: make([]MemoItem, 0, len(memos))}
	for _, m := range memos {
		item := MemoItem{
			MemoID:       m.MemoID,
			Title:        m.Title,
			StartDate:    m.StartDate,
			Time:         m.Time,
			AudioFile:    m.AudioFile,
			TriggerCount: m.TriggerCount,
		}
		if m.Recurrence != nil {
			item.Frequency = string(m.Recurrence.Frequency)
		}
		res.Memos = append(res.Memos, item)
	}
	return res, nil
}

func (rs *RPCServer) scheduleReload(_ context.Context) (*ReloadResult, error) {
	rs.engine.Reload()
	return &ReloadResult{Count: len(rs.engine.Memos())}, nil
}

func (rs *RPCServer) storageStats(_ context.Context) (*StatsResult, error) {
	assets, err := rs.storage.ListAssets()
	if err != nil {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return &StatsResult{
		Backend:    rs.storage.Backend().String(),
		FreeSpace:  rs.storage.FreeSpace(),
		AssetCount: len(assets),
		Assets:     assets,
	}, nil
}

// Serve accepts control connections on lst until Close. Each connection
// gets its own jrpc2 server over a newline-delimited channel.
func (rs *RPCServer) Serve(lst net.Listener) error {
	rs.mu.Lock()
	rs.lst = lst
	rs.mu.Unlock()

	for {
		conn, err := lst.Accept()
		if err != nil {
			rs.mu.Lock()
			closed := rs.closed
			rs.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		srv := jrpc2.NewServer(rs.methods, nil)
		srv.Start(channel.Line(conn, conn))

		rs.mu.Lock()
		rs.servers[srv] = struct{}{}
		rs.mu.Unlock()

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			srv.Wait()
			conn.Close()
			rs.mu.Lock()
			delete(rs.servers, srv)
			rs.mu.Unlock()
		}()
	}
}

// ListenAndServe binds a unix socket at path and serves on it.
func (rs *RPCServer) ListenAndServe(path string) error {
	lst, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	rs.log.Info("rpc: listening on %s", path)
	return rs.Serve(lst)
}

// Close stops the listener and all per-connection servers.
func (rs *RPCServer) Close() {
	rs.mu.Lock()
	rs.closed = true
	lst := rs.lst
	servers := make([]*jrpc2.Server, 0, len(rs.servers))
	for srv := range rs.servers {
		servers = append(servers, srv)
	}
	rs.mu.Unlock()

	if lst != nil {
		lst.Close()
	}
	for _, srv := range servers {
		srv.Stop()
	}
	rs.wg.Wait()
}
