// Package worker implements the Channel Worker: a per-channel consume loop
// that turns a bus payload into exactly one provider send attempt and one
// terminal status update, running over a NATS JetStream Bus Adapter and an
// N-channel provider registry.
package worker

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/ledger"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/sanitize"
)

const sendTimeout = 30 * time.Second

// MessageStore is the subset of *repository.MessageRepository the worker needs.
type MessageStore interface {
	GetStatus(ctx context.Context, tx *sql.Tx, messageID string) (models.Status, error)
	GetSiteID(ctx context.Context, messageID string) (*uuid.UUID, error)
	FinalizeDelivery(ctx context.Context, tx *sql.Tx, messageID string, status models.Status, sentAt, deliveredAt *time.Time) (bool, error)
	FinalizeFailure(ctx context.Context, tx *sql.Tx, messageID string, failureType models.FailureType, errMsg string) (bool, error)
}

// HistoryAppender is satisfied by *ledger.Ledger.
type HistoryAppender interface {
	Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error
}

// SiteLoader and SessionLoader match internal/credentials' loader interfaces
// (repeated here so worker doesn't need to import repository directly).
type SiteLoader = credentials.SiteLoader
type GlobalConfigLoader = credentials.GlobalConfigLoader
type SessionLoader = credentials.SessionLoader

// Worker consumes one channel's bus subject and drives a single message to
// a terminal state per delivery.
type Worker struct {
	channel     models.Channel
	consumer    bus.Consumer
	db          *sql.DB
	messages    MessageStore
	history     HistoryAppender
	provider    providers.Provider
	siteLoader  SiteLoader
	globalCfg   GlobalConfigLoader
	sessionRepo SessionLoader
	envDefaults credentials.EnvDefaults
	logger      zerolog.Logger
}

// New constructs a Worker for channel, sending through provider and
// resolving credentials via the given loaders.
func New(
	channel models.Channel,
	consumer bus.Consumer,
	db *sql.DB,
	messages MessageStore,
	history HistoryAppender,
	provider providers.Provider,
	siteLoader SiteLoader,
	globalCfg GlobalConfigLoader,
	sessionRepo SessionLoader,
	envDefaults credentials.EnvDefaults,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		channel:     channel,
		consumer:    consumer,
		db:          db,
		messages:    messages,
		history:     history,
		provider:    provider,
		siteLoader:  siteLoader,
		globalCfg:   globalCfg,
		sessionRepo: sessionRepo,
		envDefaults: envDefaults,
		logger:      logger,
	}
}

// Run blocks, consuming payloads until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Consume(ctx, w.channel, w.handle)
}

// handle implements the 8-step sequence: parse (done by the bus layer) ->
// idempotency gate -> tenant verification -> WhatsApp session-name
// agreement -> credential resolution -> provider call with a bounded
// timeout -> terminal update + history append -> ack/nak (via the returned
// error, which the bus layer maps to Ack/Nak).
func (w *Worker) handle(ctx context.Context, payload bus.InboundPayload) error {
	status, err := w.messages.GetStatus(ctx, nil, payload.MessageID)
	if err != nil {
		return err
	}
	if status == models.StatusDelivered || status == models.StatusBounced || status == models.StatusRejected {
		// Already terminal: a redelivery of an already-handled message.
		// Ack without reprocessing.
		w.logger.Debug().Str("messageId", payload.MessageID).Msg("skipping already-terminal message")
		return nil
	}

	var siteID *parsedSiteID
	if payload.SiteID != "" {
		id, err := parseSiteID(payload.SiteID)
		if err != nil {
			return w.fail(ctx, payload, models.FailureTypeConsumer, "invalid siteId in payload")
		}
		siteID = id
	}

	if w.channel == models.ChannelWhatsApp {
		if siteID == nil {
			return w.fail(ctx, payload, models.FailureTypeConsumer, "whatsapp requires a siteId")
		}
	}

	rowSiteID, err := w.messages.GetSiteID(ctx, payload.MessageID)
	if err != nil {
		return err
	}
	if !sameSite(rowSiteID, siteID) {
		return w.fail(ctx, payload, models.FailureTypeConsumer, "Tenant isolation violation: payload siteId does not match message tenant")
	}

	cred, err := w.resolveCredential(ctx, payload, siteID)
	if err != nil {
		if err == models.ErrTenantMismatch {
			return w.fail(ctx, payload, models.FailureTypeConsumer, "tenant isolation violation")
		}
		return w.fail(ctx, payload, models.FailureTypeConsumer, "credential resolution failed: "+sanitize.String(err.Error()))
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	timer := time.Now()
	result, sendErr := w.provider.Send(sendCtx, payload, cred)
	metrics.ProviderSendDuration.WithLabelValues(string(w.channel)).Observe(time.Since(timer).Seconds())
	if sendErr != nil {
		return w.fail(ctx, payload, models.FailureTypeConsumer, sanitize.String(sendErr.Error()))
	}
	if !result.OK {
		return w.failWithCategory(ctx, payload, result.Category, result.Message)
	}

	return w.succeed(ctx, payload)
}

func (w *Worker) succeed(ctx context.Context, payload bus.InboundPayload) error {
	now := time.Now()
	status := models.StatusDelivered
	var sentAt, deliveredAt *time.Time
	if w.channel == models.ChannelWhatsApp {
		// WhatsApp acknowledges submission synchronously; delivery
		// confirmation itself arrives later via webhook/TRIGGER source.
		status = models.StatusSent
		sentAt = &now
	} else {
		sentAt = &now
		deliveredAt = &now
	}

	err := repository.WithTransaction(ctx, w.db, func(tx *sql.Tx) (func(), error) {
		updated, err := w.messages.FinalizeDelivery(ctx, tx, payload.MessageID, status, sentAt, deliveredAt)
		if err != nil {
			return nil, err
		}
		if !updated {
			return func() {}, nil
		}
		return func() {
			if err := w.history.Append(ctx, payload.MessageID, status, "", payload.RetryCount, models.SourceWorker); err != nil {
				w.logger.Warn().Err(sanitize.Error(err)).Str("messageId", payload.MessageID).Msg("failed to append success history")
			}
			metrics.MessagesSent.WithLabelValues(string(w.channel)).Inc()
			if status == models.StatusDelivered {
				metrics.MessagesDelivered.WithLabelValues(string(w.channel)).Inc()
			}
		}, nil
	})
	return err
}

func (w *Worker) fail(ctx context.Context, payload bus.InboundPayload, failureType models.FailureType, message string) error {
	return w.finalizeFailure(ctx, payload, failureType, message, models.CategoryPermanent)
}

// failWithCategory classifies a provider-reported failure per the category
// the adapter returned, consumer-side failures being the terminal path a
// retry-eligible send takes before the Retry Controller claims it.
func (w *Worker) failWithCategory(ctx context.Context, payload bus.InboundPayload, category models.Category, message string) error {
	return w.finalizeFailure(ctx, payload, models.FailureTypeConsumer, message, category)
}

func (w *Worker) finalizeFailure(ctx context.Context, payload bus.InboundPayload, failureType models.FailureType, message string, category models.Category) error {
	err := repository.WithTransaction(ctx, w.db, func(tx *sql.Tx) (func(), error) {
		updated, err := w.messages.FinalizeFailure(ctx, tx, payload.MessageID, failureType, message)
		if err != nil {
			return nil, err
		}
		if !updated {
			return func() {}, nil
		}
		return func() {
			if err := w.history.Append(ctx, payload.MessageID, models.StatusFailed, message, payload.RetryCount, models.SourceWorker); err != nil {
				w.logger.Warn().Err(sanitize.Error(err)).Str("messageId", payload.MessageID).Msg("failed to append failure history")
			}
			metrics.MessagesFailed.WithLabelValues(string(w.channel), string(category)).Inc()
		}, nil
	})
	if err != nil {
		return err
	}
	// Acknowledge: the terminal FAILED status has been recorded and the
	// Retry Controller owns recovery from here, not redelivery.
	return nil
}
