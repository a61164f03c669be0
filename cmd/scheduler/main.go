// Command scheduler runs the Scheduler: the process that promotes
// SCHEDULED messages to PENDING once their scheduledAt has passed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/notifyhub/dispatch/internal/app"
	"github.com/notifyhub/dispatch/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, "scheduler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start scheduler: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	sched := scheduler.New(deps.DB, deps.Messages, deps.Ledger, deps.Bus, deps.Config.Scheduler.BatchSize, deps.Logger)

	deps.Logger.Info().Msg("scheduler starting")
	if err := sched.Run(ctx, deps.Config.Scheduler.CronSpec, deps.Config.Scheduler.Interval); err != nil && err != context.Canceled {
		deps.Logger.Error().Err(err).Msg("scheduler stopped unexpectedly")
		os.Exit(1)
	}

	deps.Logger.Info().Msg("scheduler stopped")
}
