// Package webhook adapts a signature-verified WhatsApp webhook surface into
// a single core-owned endpoint that reconciles a provider-reported delivery
// status into a TRIGGER-sourced history entry, a safety net alongside the
// worker's own application-side writes.
package webhook

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/sanitize"
	"github.com/notifyhub/dispatch/pkg/whatsapp"
)

// SignatureVerifier decodes and authenticates a raw webhook request body,
// satisfied by *whatsapp.Client.
type SignatureVerifier interface {
	HandleWebhook(req *http.Request) (*whatsapp.WebhookEvent, error)
}

// MessageStore is the subset of *repository.MessageRepository the webhook
// handler needs to apply a reported terminal status.
type MessageStore interface {
	FinalizeDelivery(ctx context.Context, tx *sql.Tx, messageID string, status models.Status, sentAt, deliveredAt *time.Time) (bool, error)
	FinalizeFailure(ctx context.Context, tx *sql.Tx, messageID string, failureType models.FailureType, errMsg string) (bool, error)
}

type historyAppender interface {
	Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error
}

// Handler receives provider delivery-status callbacks.
type Handler struct {
	db       *sql.DB
	verifier SignatureVerifier
	messages MessageStore
	history  historyAppender
	logger   zerolog.Logger
}

// New constructs a Handler.
func New(db *sql.DB, verifier SignatureVerifier, messages MessageStore, history historyAppender, logger zerolog.Logger) *Handler {
	return &Handler{db: db, verifier: verifier, messages: messages, history: history, logger: logger}
}

// RegisterRoutes mounts the webhook surface onto r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhooks/whatsapp", h.handleWhatsApp)
}

func (h *Handler) handleWhatsApp(c *gin.Context) {
	event, err := h.verifier.HandleWebhook(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook"})
		return
	}

	status, ok := mapStatus(event.Status)
	if !ok {
		// Event types this core doesn't track a terminal status for (e.g.
		// "read" receipts) are acknowledged without any write.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	if err := h.apply(ctx, event.MessageID, status); err != nil {
		h.logger.Warn().Err(sanitize.Error(err)).Str("messageId", event.MessageID).Msg("failed to apply webhook status")
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *Handler) apply(ctx context.Context, messageID string, status models.Status) error {
	now := time.Now()
	return repository.WithTransaction(ctx, h.db, func(tx *sql.Tx) (func(), error) {
		var updated bool
		var err error
		if status == models.StatusFailed {
			updated, err = h.messages.FinalizeFailure(ctx, tx, messageID, models.FailureTypeConsumer, "provider reported delivery failure")
		} else {
			updated, err = h.messages.FinalizeDelivery(ctx, tx, messageID, status, nil, &now)
		}
		if err != nil {
			return nil, err
		}
		if !updated {
			return func() {}, nil
		}
		return func() {
			if err := h.history.Append(ctx, messageID, status, "", 0, models.SourceTrigger); err != nil {
				h.logger.Warn().Err(sanitize.Error(err)).Str("messageId", messageID).Msg("failed to append trigger-source history")
			}
		}, nil
	})
}

func mapStatus(s whatsapp.MessageStatus) (models.Status, bool) {
	switch s {
	case whatsapp.MessageStatusDelivered:
		return models.StatusDelivered, true
	case whatsapp.MessageStatusFailed:
		return models.StatusFailed, true
	default:
		return "", false
	}
}
