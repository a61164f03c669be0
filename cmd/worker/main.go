// Command worker runs the Channel Worker: one consume loop per channel,
// each driving a message to a terminal state through its provider adapter.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/notifyhub/dispatch/internal/app"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers/email"
	whatsappadapter "github.com/notifyhub/dispatch/internal/providers/whatsapp"
	"github.com/notifyhub/dispatch/internal/worker"
	"github.com/notifyhub/dispatch/pkg/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, "worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start channel worker: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	emailProvider := email.NewClient(deps.Config.SendGrid.APIEndpoint, deps.Config.SendGrid.Timeout)

	waClient, err := whatsapp.NewClient(deps.Config.WhatsApp.DefaultAPIKey, deps.Config.WhatsApp.APIEndpoint, &whatsapp.ClientOptions{
		Timeout:       deps.Config.WhatsApp.Timeout,
		RetryAttempts: deps.Config.WhatsApp.RetryAttempts,
		RetryDelay:    deps.Config.WhatsApp.RetryDelay,
		WebhookSecret: deps.Config.WhatsApp.WebhookSecret,
	})
	if err != nil {
		deps.Logger.Fatal().Err(err).Msg("failed to construct whatsapp client")
	}
	whatsappProvider := whatsappadapter.NewAdapter(waClient)

	emailWorker := worker.New(models.ChannelEmail, deps.Bus, deps.DB, deps.Messages, deps.Ledger, emailProvider, deps.Sites, deps.GlobalCfg, deps.Sessions, deps.EnvDefaults, deps.Logger)
	whatsappWorker := worker.New(models.ChannelWhatsApp, deps.Bus, deps.DB, deps.Messages, deps.Ledger, whatsappProvider, deps.Sites, deps.GlobalCfg, deps.Sessions, deps.EnvDefaults, deps.Logger)

	var wg sync.WaitGroup
	run := func(name string, w *worker.Worker) {
		defer wg.Done()
		deps.Logger.Info().Str("channel", name).Msg("channel worker starting")
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			deps.Logger.Error().Err(err).Str("channel", name).Msg("channel worker stopped unexpectedly")
			stop()
		}
	}

	wg.Add(2)
	go run("EMAIL", emailWorker)
	go run("WHATSAPP", whatsappWorker)

	<-ctx.Done()
	deps.Logger.Info().Msg("shutting down channel worker")
	wg.Wait()
}
