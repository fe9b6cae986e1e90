package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dashcore/cmd/dashcore/cmd"
	"dashcore/core/logger"

	"go.uber.org/zap"
)

// main is the entry point of the dashcore CLI.
func main() {
	ctx := logger.WithComponentName(context.Background(), "main")

	// Flush buffered log entries on exit. Sync on a terminal can fail
	// harmlessly, so the error is ignored.
	defer func() { _ = logger.Sync() }()

	// Cancel the command context on SIGINT/SIGTERM so long running commands
	// like watch and mock-server shut down gracefully.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info(ctx, "Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()

	cmd.Execute(ctx)
}
