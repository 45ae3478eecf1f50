package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarrydb/quarry/internal/cli/quarryctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := quarryctl.Run(ctx, os.Args[1:], quarryctl.Options{
		Lookup: os.LookupEnv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	os.Exit(code)
}
