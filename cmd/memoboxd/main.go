// memoboxd is the talking box device daemon: it mounts storage, serves
// the sync link, evaluates the memo schedule once per second, and plays
// triggered memos.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/memobox/memobox/internal/audio"
	"github.com/memobox/memobox/internal/gatt"
	"github.com/memobox/memobox/internal/scheduler"
	"github.com/memobox/memobox/internal/server"
	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

const version = "0.1.0"

// drainLimit caps the chunk writes performed per polling iteration so
// a large transfer cannot starve schedule evaluation.
const drainLimit = 8

var (
	dataDir     string
	fallbackDir string
	listenAddr  string
	socketPath  string
	audioDevice string

	daemonFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "data-dir, d",
			Usage:       "mount point of the primary storage medium",
			EnvVar:      "MEMOBOX_DATA_DIR",
			Value:       "/mnt/sdcard",
			Destination: &dataDir,
		},
		cli.StringFlag{
			Name:        "fallback-dir, f",
			Usage:       "mount point of the fallback storage medium",
			EnvVar:      "MEMOBOX_FALLBACK_DIR",
			Destination: &fallbackDir,
		},
		cli.StringFlag{
			Name:        "listen, l",
			Usage:       "address to serve the sync link on",
			EnvVar:      "MEMOBOX_LISTEN",
			Value:       ":8533",
			Destination: &listenAddr,
		},
		cli.StringFlag{
			Name:        "socket, s",
			Usage:       "path of the local control socket",
			EnvVar:      "MEMOBOX_SOCKET",
			Destination: &socketPath,
		},
		cli.StringFlag{
			Name:        "audio-device, a",
			Usage:       "writable device file the audio stream is fed to",
			EnvVar:      "MEMOBOX_AUDIO_DEVICE",
			Value:       os.DevNull,
			Destination: &audioDevice,
		},
	}
)

func main() {
	app := cli.App{
		Name:      "memoboxd",
		HelpName:  "memoboxd",
		Usage:     "talking box device daemon",
		UsageText: "memoboxd [options]",
		Version:   version,
		Flags:     daemonFlags,
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println("memoboxd:", err.Error())
		os.Exit(1)
	}
}

func run(_ *cli.Context) error {
	l := logger.NewStandardLogger(log.Default())
	defer l.Close()

	if socketPath == "" {
		socketPath = filepath.Join(os.TempDir(), "memobox.sock")
	}

	storage := memolib.Mount(memolib.StorageConfig{
		PrimaryPath:  dataDir,
		FallbackPath: fallbackDir,
	}, l)
	if err := storage.EnsureLayout(); err != nil {
		return fmt.Errorf("storage layout: %w", err)
	}
	if err := storage.PurgeOrphans(); err != nil {
		l.Warning("boot: orphan purge: %v", err)
	}

	sinkFile, err := os.OpenFile(audioDevice, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("audio device %s: %w", audioDevice, err)
	}
	defer sinkFile.Close()
	player := audio.NewPlayer(audio.StorageSource{Root: storage}, sinkFile, l)

	engine := scheduler.New(storage, scheduler.SystemClock{}, player, l)
	svc := gatt.NewService(storage, l)
	rpc := server.NewRPCServer(version, storage, engine, svc, l)

	errc := make(chan error, 2)
	go func() {
		l.Info("boot: sync link on %s", listenAddr)
		errc <- svc.Start(listenAddr)
	}()
	go func() {
		errc <- rpc.ListenAndServe(socketPath)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	l.Info("boot: %s ready (%s storage)", memolib.DeviceName, storage.Backend())
	for {
		select {
		case <-ticker.C:
			poll(engine, svc.Session(), l)
		case sig := <-sigc:
			l.Info("shutdown: received %s", sig)
			return shutdown(svc, rpc, player)
		case err := <-errc:
			if err != nil {
				shutdown(svc, rpc, player)
				return err
			}
		}
	}
}

// poll is one iteration of the device loop: evaluate the schedule, move
// a bounded number of received chunks to storage, and finalize a
// transfer whose end sentinel has arrived.
func poll(engine *scheduler.Engine, sess *memolib.Session, l logger.Logger) {
	engine.Tick()

	if err := sess.DrainPending(drainLimit); err != nil {
		l.Warning("poll: %v", err)
		return
	}
	if !sess.EndRequested() {
		return
	}
	name, err := sess.Finalize()
	if err != nil {
		l.Warning("poll: finalize: %v", err)
	}
	// A committed schedule record takes effect immediately.
	if name == memolib.MemoRecordName {
		engine.Reload()
	}
}

func shutdown(svc *gatt.Service, rpc *server.RPCServer, player *audio.Player) error {
	player.Stop()
	rpc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return svc.Shutdown(ctx)
}
