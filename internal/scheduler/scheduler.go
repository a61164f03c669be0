// Package scheduler implements the Scheduler: the process that promotes
// SCHEDULED messages to PENDING once their scheduledAt has passed and hands
// them to the bus, via a batched, atomic claim so a promoted row is never
// lost between the database update and the publish.
package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/sanitize"
)

// MessageStore is the subset of *repository.MessageRepository the scheduler
// needs.
type MessageStore interface {
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error)
	PromoteScheduled(ctx context.Context, tx *sql.Tx, ids []string) ([]*models.Message, error)
}

type appender interface {
	Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error
}

// Scheduler periodically promotes due SCHEDULED rows to PENDING and
// publishes them, batching the claim but publishing only from the
// after-commit hook so a crash before commit leaves the rows untouched for
// the next scan.
type Scheduler struct {
	db        *sql.DB
	messages  MessageStore
	history   appender
	publisher bus.Publisher
	batchSize int
	logger    zerolog.Logger
}

// New constructs a Scheduler scanning for due messages in batches of
// batchSize.
func New(db *sql.DB, messages MessageStore, history appender, publisher bus.Publisher, batchSize int, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:        db,
		messages:  messages,
		history:   history,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run starts a cron-scheduled sweep at the given expression, blocking until
// ctx is canceled. An empty expression falls back to a plain ticker on
// interval.
func (s *Scheduler) Run(ctx context.Context, cronExpr string, interval time.Duration) error {
	if cronExpr == "" {
		return s.runTicker(ctx, interval)
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
			s.scanOnce(ctx)
			next = sched.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scheduler) scanOnce(ctx context.Context) {
	ids, err := s.messages.FindDueScheduled(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.logger.Error().Err(sanitize.Error(err)).Msg("failed to scan due scheduled messages")
		return
	}
	if len(ids) == 0 {
		return
	}

	err = repository.WithTransaction(ctx, s.db, func(tx *sql.Tx) (func(), error) {
		promoted, err := s.messages.PromoteScheduled(ctx, tx, ids)
		if err != nil {
			return nil, err
		}

		return func() {
			s.publishAll(ctx, promoted)
		}, nil
	})
	if err != nil {
		s.logger.Error().Err(sanitize.Error(err)).Msg("failed to promote scheduled messages")
	}
}

func (s *Scheduler) publishAll(ctx context.Context, promoted []*models.Message) {
	for _, msg := range promoted {
		payload := toOutboundPayload(msg)
		if err := s.publisher.Publish(ctx, msg.Channel, payload); err != nil {
			s.logger.Error().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to publish promoted scheduled message")
			continue
		}
		if err := s.history.Append(ctx, msg.ID, models.StatusPending, "", msg.RetryCount, models.SourceTrigger); err != nil {
			s.logger.Warn().Err(sanitize.Error(err)).Str("messageId", msg.ID).Msg("failed to append scheduled-promotion history")
		}
		metrics.MessagesScheduledPromoted.WithLabelValues(string(msg.Channel)).Inc()
	}
}
