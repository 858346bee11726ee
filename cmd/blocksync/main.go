// Command blocksync is the CLI entrypoint wiring package session and
// package walk together into a urfave/cli front end.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	app := setupApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, diagnosticLine(err))
		os.Exit(1)
	}
}

func setupApp() *cli.App {
	app := cli.NewApp()
	app.Name = "blocksync"
	app.Version = version
	app.Usage = "block-based delta file synchronization"
	app.UsageText = "blocksync [options] <src> <dst>\n" +
		"   blocksync [options] <src> <host>:<remote_path>\n" +
		"   blocksync --server --port <p>"

	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:    "block-size",
			Aliases: []string{"b"},
			Value:   1024,
			Usage:   "block size B",
		},
		&cli.BoolFlag{
			Name:  "metadata",
			Usage: "preserve mode, mtime, and ownership on success (local mode only)",
		},
		&cli.BoolFlag{
			Name:  "delete",
			Usage: "in directory mode, remove destination entries absent from source",
		},
		&cli.IntFlag{
			Name:  "port",
			Value: 7879,
			Usage: "server port, or the port to connect to in client mode",
		},
		&cli.BoolFlag{
			Name:  "server",
			Usage: "run in server (receiver) mode",
		},
		&cli.StringFlag{
			Name:  "cpuprofile",
			Usage: "write a CPU profile to this path before exiting",
		},
	}

	app.Action = run

	return app
}
