package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/brettbedarf/ephemfs/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger := util.GetLogger("main")
		logger.Error().Err(err).Msg("Execution failed")
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
