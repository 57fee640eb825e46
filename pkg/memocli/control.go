package memocli

import (
	"context"
	"fmt"
	"net"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
)

// Control is a connection to the daemon's local control API.
type Control struct {
	cli *jrpc2.Client
}

// DeviceStatus is the device.status response.
type DeviceStatus struct {
	Device         string `json:"device"`
	Version        string `json:"version"`
	Backend        string `json:"backend"`
	Connected      bool   `json:"connected"`
	TransferActive bool   `json:"transferActive"`
	TransferBytes  int64  `json:"transferBytes"`
	TransferFile   string `json:"transferFile,omitempty"`
}

// MemoEntry is one memo in the memo.list response.
type MemoEntry struct {
	MemoID       string `json:"memoId"`
	Title        string `json:"title,omitempty"`
	StartDate    string `json:"startDate"`
	Time         string `json:"time"`
	Frequency    string `json:"frequency,omitempty"`
	AudioFile    string `json:"audioFile,omitempty"`
	TriggerCount int    `json:"triggerCount"`
}

// StorageStats is the storage.stats response.
type StorageStats struct {
	Backend    string   `json:"backend"`
	FreeSpace  int64    `json:"freeSpace"`
	AssetCount int      `json:"assetCount"`
	Assets     []string `json:"assets,omitempty"`
}

// DialControl connects to the daemon's control socket.
func DialControl(socketPath string) (*Control, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("error connecting to daemon: %w", err)
	}
	return &Control{
		cli: jrpc2.NewClient(channel.Line(conn, conn), nil),
	}, nil
}

// Close releases the control connection.
func (c *Control) Close() error {
	return c.cli.Close()
}

// Status fetches the daemon's device.status view.
func (c *Control) Status(ctx context.Context) (*DeviceStatus, error) {
	var res DeviceStatus
	if err := c.cli.CallResult(ctx, "device.status", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Memos fetches the loaded schedule.
func (c *Control) Memos(ctx context.Context) ([]MemoEntry, error) {
	var res struct {
		Memos []MemoEntry `json:"memos"`
	}
	if err := c.cli.CallResult(ctx, "memo.list", nil, &res); err != nil {
		return nil, err
	}
	return res.Memos, nil
}

// Reload asks the daemon to re-read its schedule record and returns the
// number of memos now loaded.
func (c *Control) Reload(ctx context.Context) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if err := c.cli.CallResult(ctx, "schedule.reload", nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Stats fetches storage statistics.
func (c *Control) Stats(ctx context.Context) (*StorageStats, error) {
	var res StorageStats
	if err := c.cli.CallResult(ctx, "storage.stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
