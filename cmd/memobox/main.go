// memobox is the host-side companion tool: it pushes audio and schedule
// files to a talking box over its sync link and queries the daemon's
// control socket.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"
)

const version = "0.1.0"

var (
	deviceURL  string
	socketPath string

	linkFlag = cli.StringFlag{
		Name:        "device, u",
		Usage:       "websocket URL of the device sync endpoint",
		EnvVar:      "MEMOBOX_DEVICE",
		Value:       "ws://127.0.0.1:8533/sync",
		Destination: &deviceURL,
	}
	socketFlag = cli.StringFlag{
		Name:        "socket, s",
		Usage:       "path of the daemon control socket",
		EnvVar:      "MEMOBOX_SOCKET",
		Destination: &socketPath,
	}
)

func main() {
	app := cli.App{
		Name:      "memobox",
		HelpName:  "memobox",
		Usage:     "talking box companion tool",
		UsageText: "memobox <command> [arguments...]",
		Version:   version,
		Commands: []cli.Command{
			{
				Name:      "send",
				Aliases:   []string{"push"},
				Usage:     "send a file to the device",
				UsageText: "memobox send <file>",
				Flags:     append([]cli.Flag{linkFlag}, sendFlags...),
				Action:    send,
			},
			{
				Name:   "status",
				Usage:  "show device status",
				Flags:  []cli.Flag{socketFlag},
				Action: status,
			},
			{
				Name:   "memos",
				Usage:  "list the loaded memo schedule",
				Flags:  []cli.Flag{socketFlag},
				Action: memos,
			},
			{
				Name:   "reload",
				Usage:  "reload the schedule from storage",
				Flags:  []cli.Flag{socketFlag},
				Action: reload,
			},
			{
				Name:   "stats",
				Usage:  "show storage statistics",
				Flags:  []cli.Flag{socketFlag},
				Action: stats,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println("memobox:", err.Error())
		os.Exit(1)
	}
}

func controlSocket() string {
	if socketPath != "" {
		return socketPath
	}
	return filepath.Join(os.TempDir(), "memobox.sock")
}
