package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memocli"
	"github.com/memobox/memobox/pkg/memolib"
)

var (
	chunkSize uint

	sendFlags = []cli.Flag{
		cli.UintFlag{
			Name:        "chunk-size, c",
			Usage:       "payload bytes per data frame",
			Value:       memolib.DefaultChunkSize,
			Destination: &chunkSize,
		},
	}
)

func initSendBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")

	bar := p.New(total,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(
				decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "Complete",
			),
		),
		mpb.AppendDecorators(
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f"),
		),
	)
	return bar
}

func send(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.ShowCommandHelp(ctx, "send")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if chunkSize == 0 || chunkSize > 0xFFFF {
		return fmt.Errorf("chunk size %d out of range", chunkSize)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := memocli.Dial(dialCtx, deviceURL, logger.NewNopLogger())
	if err != nil {
		return err
	}
	defer c.Close()

	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(30*time.Millisecond))
	bar := initSendBar(p, filepath.Base(path), info.Size())

	sendCtx, cancelSend := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancelSend()
	res, err := c.SendFile(sendCtx, path, &memocli.SendOptions{
		ChunkSize: uint16(chunkSize),
		OnAck: func(_ uint32, sent, _ int64) {
			bar.SetCurrent(sent)
		},
	})
	if err != nil {
		bar.Abort(true)
		p.Wait()
		if errors.Is(err, memolib.ErrHashMismatch) {
			return fmt.Errorf("device stored the file but its hash does not match; resend %s", filepath.Base(path))
		}
		return err
	}
	bar.SetCurrent(res.Size)
	p.Wait()

	fmt.Printf("stored %s (%d bytes, %d chunks)\nsha256 %s\n",
		res.Filename, res.Size, res.Chunks, res.SHA256)
	return nil
}
