// Package ledger implements the append-only Status History Ledger. It
// reconciles dual writes from the application (API, WORKER sources) and a
// provider delivery-status webhook (TRIGGER source) that may both attempt to
// record the same transition within the same second.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/transitions"
)

var historyAppends = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "message_status_history_appends_total",
		Help: "Total number of status history entries appended, by status and outcome",
	},
	[]string{"status", "outcome"},
)

const dedupWindow = time.Second

const insertHistorySQL = `
	INSERT INTO message_status_history (
		message_id, status, error_message, retry_count, bucket_second, "timestamp", source
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (message_id, status, bucket_second) DO NOTHING`

// StatusReader loads the current status of a message, used to validate a
// transition before appending. It is satisfied by *repository.MessageRepository.
type StatusReader interface {
	GetStatus(ctx context.Context, tx *sql.Tx, messageID string) (models.Status, error)
}

// Ledger appends validated, deduplicated StatusHistory rows.
type Ledger struct {
	db     *sql.DB
	redis  *redis.Client
	reader StatusReader
}

// New returns a Ledger backed by db for storage, redis for the fast dedup
// path, and reader for the current-status lookup used during validation.
func New(db *sql.DB, redisClient *redis.Client, reader StatusReader) *Ledger {
	return &Ledger{db: db, redis: redisClient, reader: reader}
}

// Append validates the transition against the message's current status,
// then writes a StatusHistory row exactly once per (messageId, newStatus)
// within the one-second dedup window, regardless of how many callers race
// to write it.
func (l *Ledger) Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error {
	current, err := l.reader.GetStatus(ctx, nil, messageID)
	if err != nil {
		return errors.Wrap(err, "failed to load current status for transition validation")
	}
	if current != newStatus {
		if err := transitions.Validate(current, newStatus); err != nil {
			historyAppends.WithLabelValues(string(newStatus), "invalid_transition").Inc()
			return err
		}
	}

	now := time.Now()
	dedupKey := fmt.Sprintf("history:%s:%s", messageID, newStatus)

	if l.redis != nil {
		ok, err := l.redis.SetNX(ctx, dedupKey, "1", dedupWindow).Result()
		if err != nil {
			// Redis unavailable: fall through to the Postgres-level guard
			// rather than failing the whole append.
			historyAppends.WithLabelValues(string(newStatus), "cache_error").Inc()
		} else if !ok {
			historyAppends.WithLabelValues(string(newStatus), "deduped_cache").Inc()
			return nil
		}
	}

	bucket := now.Truncate(time.Second)
	result, err := l.db.ExecContext(ctx, insertHistorySQL, messageID, newStatus, errMsg, retryCount, bucket, now, source)
	if err != nil {
		historyAppends.WithLabelValues(string(newStatus), "error").Inc()
		return errors.Wrap(err, "failed to insert status history")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		historyAppends.WithLabelValues(string(newStatus), "deduped_db").Inc()
		return nil
	}

	historyAppends.WithLabelValues(string(newStatus), "success").Inc()
	return nil
}
