package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const defaultRPCServer = "localhost:8733"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[woofbot-watcherctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "woofbot-watcherctl"
	app.Usage = "control plane for woofbot-watcher"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCServer,
			Usage: "host:port of the woofbot-watcher diagnostics endpoint",
		},
	}
	app.Commands = []cli.Command{
		getInfoCommand,
		countTasksCommand,
		mempoolStatusCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
