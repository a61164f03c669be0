// Package retrycontroller implements the Retry Controller: the sole
// process permitted to mutate retryCount on a publish failure. Every retry
// decision lives in one dedicated component that claims FAILED rows,
// republishes them, and dead-letters anything that exhausts its retry
// budget, rather than letting retry state mutate from the consumer side.
package retrycontroller

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/sanitize"
)

// retryableFailureTypes lists every failure type a FAILED row can carry
// that is still eligible for another attempt: PUBLISH (this controller's
// own republish failed) and CONSUMER (every provider AUTH/CONFIG/
// PERMANENT/TEMPORARY result, set by the Channel Worker).
var retryableFailureTypes = []models.FailureType{models.FailureTypePublish, models.FailureTypeConsumer}

// MessageStore is the subset of *repository.MessageRepository the
// controller needs.
type MessageStore interface {
	ClaimForRetry(ctx context.Context, tx *sql.Tx, messageID string) (bool, error)
	IncrementRetryAfterPublishFailure(ctx context.Context, tx *sql.Tx, messageID string) (int, error)
	FinalizeFailure(ctx context.Context, tx *sql.Tx, messageID string, failureType models.FailureType, errMsg string) (bool, error)
	FindRetryCandidates(ctx context.Context, failureType models.FailureType, maxRetries int, olderThan time.Time, limit int) ([]*models.Message, error)
	FindRescueCandidates(ctx context.Context, maxRetries int, olderThan time.Time, limit int) ([]*models.Message, error)
}

// Controller periodically scans for FAILED (and boundary-rescued PENDING)
// rows eligible for another attempt, claims them one at a time, and
// republishes only after the claim is durably committed.
type Controller struct {
	db         *sql.DB
	messages   MessageStore
	history    appender
	publisher  bus.Publisher
	maxRetries int
	retryDelay time.Duration
	batchSize  int
	channels   []models.Channel
	logger     zerolog.Logger
}

type appender interface {
	Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error
}

// New constructs a Controller scanning for candidates older than retryDelay,
// retrying up to maxRetries times before dead-lettering.
func New(db *sql.DB, messages MessageStore, history appender, publisher bus.Publisher, maxRetries, batchSize int, retryDelay time.Duration, channels []models.Channel, logger zerolog.Logger) *Controller {
	return &Controller{
		db:         db,
		messages:   messages,
		history:    history,
		publisher:  publisher,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		batchSize:  batchSize,
		channels:   channels,
		logger:     logger,
	}
}

// Run starts a cron-scheduled scan at the given expression, blocking until
// ctx is canceled. An empty expression falls back to a plain ticker on
// retryDelay.
func (c *Controller) Run(ctx context.Context, cronExpr string) error {
	if cronExpr == "" {
		return c.runTicker(ctx)
	}

	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return err
	}

	next := sched.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			c.scanOnce(ctx)
			next = sched.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (c *Controller) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(c.retryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.scanOnce(ctx)
		}
	}
}

func (c *Controller) scanOnce(ctx context.Context) {
	cutoff := time.Now().Add(-c.retryDelay)

	for _, failureType := range retryableFailureTypes {
		retryable, err := c.messages.FindRetryCandidates(ctx, failureType, c.maxRetries, cutoff, c.batchSize)
		if err != nil {
			c.logger.Error().Err(sanitize.Error(err)).Str("failureType", string(failureType)).Msg("failed to scan retry candidates")
			continue
		}
		for _, msg := range retryable {
			c.processCandidate(ctx, msg)
		}
	}

	rescued, err := c.messages.FindRescueCandidates(ctx, c.maxRetries, cutoff, c.batchSize)
	if err != nil {
		c.logger.Error().Err(sanitize.Error(err)).Msg("failed to scan rescue candidates")
		return
	}
	for _, msg := range rescued {
		c.processCandidate(ctx, msg)
	}
}

// processCandidate claims one row inside its own short transaction and
// republishes only from the after-commit hook, so nothing is published for a
// claim that did not commit. A crash between claim and publish leaves the row
// RETRYING; neither the FAILED-row scan nor the PENDING rescue scan selects
// RETRYING rows.
func (c *Controller) processCandidate(ctx context.Context, msg *models.Message) {
	err := repository.WithTransaction(ctx, c.db, func(tx *sql.Tx) (func(), error) {
		claimed, err := c.messages.ClaimForRetry(ctx, tx, msg.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return func() {}, nil
		}

		return func() {
			if err := c.history.Append(ctx, msg.ID, models.StatusRetrying, "", msg.RetryCount, models.SourceTrigger); err != nil {
				c.logger.Warn().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to append retrying history")
			}
			c.republish(ctx, msg)
		}, nil
	})
	if err != nil {
		c.logger.Error().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to claim message for retry")
	}
}

// republish attempts the bus publish for a just-claimed RETRYING row. On
// success the row returns to PENDING with its failure cleared; on failure
// retryCount is incremented (the controller's sole mutation path for it)
// and the row is moved back to FAILED so the next scan re-evaluates it
// against the retry budget — naturally excluding it once exhausted, at
// which point it is also dead-lettered.
func (c *Controller) republish(ctx context.Context, msg *models.Message) {
	payload := toOutboundPayload(msg)

	if err := c.publisher.Publish(ctx, msg.Channel, payload); err == nil {
		if err := c.history.Append(ctx, msg.ID, models.StatusPending, "", msg.RetryCount, models.SourceTrigger); err != nil {
			c.logger.Warn().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to append retry-success history")
		}
		metrics.MessagesRetried.WithLabelValues(string(msg.Channel)).Inc()
		return
	}

	publishErr := "failed to republish after retry claim"
	var newCount int
	var exhausted bool
	var finalErrMsg string
	txErr := repository.WithTransaction(ctx, c.db, func(tx *sql.Tx) (func(), error) {
		count, err := c.messages.IncrementRetryAfterPublishFailure(ctx, tx, msg.ID)
		if err != nil {
			return nil, err
		}
		newCount = count
		exhausted = newCount >= c.maxRetries

		finalErrMsg = publishErr
		if exhausted {
			finalErrMsg = fmt.Sprintf("Max retries exceeded (%d): %s", c.maxRetries, publishErr)
		}
		if _, err := c.messages.FinalizeFailure(ctx, tx, msg.ID, models.FailureTypePublish, finalErrMsg); err != nil {
			return nil, err
		}
		return func() {}, nil
	})
	if txErr != nil {
		c.logger.Error().Err(sanitize.Error(txErr)).Str("messageId", msg.ID).Msg("failed to record retry publish failure")
		return
	}

	if err := c.history.Append(ctx, msg.ID, models.StatusFailed, finalErrMsg, newCount, models.SourceTrigger); err != nil {
		c.logger.Warn().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to append retry-failure history")
	}

	if exhausted {
		if err := c.publisher.PublishDLQ(ctx, msg.Channel, payload); err != nil {
			c.logger.Error().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to publish to dead-letter subject")
		}
		metrics.MessagesDLQ.WithLabelValues(string(msg.Channel)).Inc()
	}
}
