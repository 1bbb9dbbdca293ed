package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mashiike/snsgw"
)

var Version = "current"

func main() {
	snsgw.Version = Version
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer cancel()
	var cli snsgw.CLI
	os.Exit(cli.Run(ctx))
}
