// Command watchdash runs the watchlist dashboard.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"watchlist-dashboard/internal/cli"
	"watchlist-dashboard/internal/logging"
)

func main() {
	// Bootstrap logger until the config is loaded.
	cfg := logging.DefaultLogConfig()
	cfg.File = false
	logger := logging.NewLoggerWithConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(logger).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
