// Command retrycontroller runs the Retry Controller: the sole process
// permitted to mutate retryCount, periodically reclaiming FAILED and
// boundary-rescued PENDING rows for another publish attempt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/notifyhub/dispatch/internal/app"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/retrycontroller"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, "retrycontroller")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start retry controller: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	channels := []models.Channel{models.ChannelEmail, models.ChannelWhatsApp}
	controller := retrycontroller.New(
		deps.DB, deps.Messages, deps.Ledger, deps.Bus,
		deps.Config.Retry.MaxRetries, deps.Config.Retry.BatchSize, deps.Config.Retry.Delay,
		channels, deps.Logger,
	)

	deps.Logger.Info().Msg("retry controller starting")
	if err := controller.Run(ctx, deps.Config.Retry.CronSpec); err != nil && err != context.Canceled {
		deps.Logger.Error().Err(err).Msg("retry controller stopped unexpectedly")
		os.Exit(1)
	}

	deps.Logger.Info().Msg("retry controller stopped")
}
