// Package main provides the entry point for the trunkprov CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx)
	stop()
	if err != nil {
		printError(err)
	}
	os.Exit(exitCode(err))
}
