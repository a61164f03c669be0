// Command server runs the Ingress Service: the HTTP surface that accepts
// POST /send requests, authenticates them against a site's API key, and
// durably queues them for a Channel Worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/notifyhub/dispatch/internal/app"
	"github.com/notifyhub/dispatch/internal/ingress"
	"github.com/notifyhub/dispatch/internal/webhook"
	"github.com/notifyhub/dispatch/pkg/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, "ingress")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start ingress service: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	handler := ingress.NewHandler(deps.DB, deps.Messages, deps.Bus)
	router := ingress.NewRouter(deps.Sites, handler)

	waClient, err := whatsapp.NewClient(deps.Config.WhatsApp.DefaultAPIKey, deps.Config.WhatsApp.APIEndpoint, &whatsapp.ClientOptions{
		Timeout:       deps.Config.WhatsApp.Timeout,
		WebhookSecret: deps.Config.WhatsApp.WebhookSecret,
	})
	if err != nil {
		deps.Logger.Fatal().Err(err).Msg("failed to construct whatsapp client for webhook verification")
	}
	webhookHandler := webhook.New(deps.DB, waClient, deps.Messages, deps.Ledger, deps.Logger)
	webhookHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
	}

	go func() {
		deps.Logger.Info().Str("addr", srv.Addr).Msg("ingress service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			deps.Logger.Error().Err(err).Msg("ingress server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	deps.Logger.Info().Msg("shutting down ingress service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deps.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		deps.Logger.Error().Err(err).Msg("ingress server shutdown error")
	}
}
