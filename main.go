package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pagewise/pagewise/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := cli.RootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if code := cli.ExitCode(root, err); code != cli.ExitOK {
		os.Exit(code)
	}
}
