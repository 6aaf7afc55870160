package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Signal-aware context for graceful shutdown; a first Ctrl-C cancels
	// batch dispatch, in-flight generation calls drain.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
