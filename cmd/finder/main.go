// Package main is the entry point for the finder CLI.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/roach88/finder/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
