package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/memobox/memobox/pkg/memocli"
)

func withControl(fn func(ctx context.Context, ctl *memocli.Control) error) error {
	ctl, err := memocli.DialControl(controlSocket())
	if err != nil {
		return err
	}
	defer ctl.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return fn(ctx, ctl)
}

func status(_ *cli.Context) error {
	return withControl(func(ctx context.Context, ctl *memocli.Control) error {
		st, err := ctl.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (daemon %s)\n", st.Device, st.Version)
		fmt.Printf("storage:   %s\n", st.Backend)
		fmt.Printf("central:   %v\n", st.Connected)
		if st.TransferActive {
			fmt.Printf("transfer:  %s (%d bytes received)\n", st.TransferFile, st.TransferBytes)
		} else {
			fmt.Println("transfer:  idle")
		}
		return nil
	})
}

func memos(_ *cli.Context) error {
	return withControl(func(ctx context.Context, ctl *memocli.Control) error {
		items, err := ctl.Memos(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no memos loaded")
			return nil
		}
		for _, m := range items {
			freq := m.Frequency
			if freq == "" {
				freq = "once"
			}
			title := m.Title
			if title == "" {
				title = m.MemoID
			}
			fmt.Printf("%-20s %s %s  %-8s fired %d\n",
				title, m.StartDate, m.Time, freq, m.TriggerCount)
		}
		return nil
	})
}

func reload(_ *cli.Context) error {
	return withControl(func(ctx context.Context, ctl *memocli.Control) error {
		n, err := ctl.Reload(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schedule reloaded, %d memos\n", n)
		return nil
	})
}

func stats(_ *cli.Context) error {
	return withControl(func(ctx context.Context, ctl *memocli.Control) error {
		st, err := ctl.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("backend:   %s\n", st.Backend)
		if st.FreeSpace >= 0 {
			fmt.Printf("free:      %d bytes\n", st.FreeSpace)
		}
		fmt.Printf("assets:    %d\n", st.AssetCount)
		for _, a := range st.Assets {
			fmt.Printf("  %s\n", a)
		}
		return nil
	})
}
