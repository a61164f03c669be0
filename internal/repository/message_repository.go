// Package repository provides the data access layer for message persistence.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/models"
)

var (
	messageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_repository_operations_total",
			Help: "Total number of repository operations",
		},
		[]string{"operation", "status"},
	)

	messageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_repository_operation_duration_seconds",
			Help:    "Duration of repository operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

const defaultQueryTimeout = 30 * time.Second

const (
	insertMessageSQL = `
		INSERT INTO messages (
			id, site_id, channel, status, recipient, subject, body, is_html,
			image_url, video_url, document_url, file_name, caption,
			from_email, from_name, whatsapp_session_name, metadata,
			retry_count, scheduled_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21
		)`

	claimForRetrySQL = `
		UPDATE messages
		SET status = 'RETRYING', failure_type = NULL, updated_at = now()
		WHERE id = $1 AND status = 'FAILED'
		RETURNING id`

	promoteScheduledSQL = `
		UPDATE messages
		SET status = 'PENDING', updated_at = now()
		WHERE id = ANY($1) AND status = 'SCHEDULED'
		RETURNING id, site_id, channel, status, recipient, subject, body, is_html,
		          image_url, video_url, document_url, file_name, caption,
		          from_email, from_name, whatsapp_session_name, metadata,
		          retry_count, failure_type, error_message,
		          scheduled_at, sent_at, delivered_at, created_at, updated_at`

	finalizeDeliverySQL = `
		UPDATE messages
		SET status = $2, failure_type = NULL, sent_at = COALESCE(sent_at, $3), delivered_at = $4, updated_at = now()
		WHERE id = $1 AND status NOT IN ('DELIVERED', 'BOUNCED', 'REJECTED')
		RETURNING id`

	finalizeFailureSQL = `
		UPDATE messages
		SET status = 'FAILED', failure_type = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ('DELIVERED', 'BOUNCED', 'REJECTED')
		RETURNING id`

	incrementRetrySQL = `
		UPDATE messages
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'RETRYING'
		RETURNING retry_count`

	findRetryCandidatesSQL = `
		SELECT id, site_id, channel, status, recipient, subject, body, is_html,
		       image_url, video_url, document_url, file_name, caption,
		       from_email, from_name, whatsapp_session_name, metadata,
		       retry_count, failure_type, error_message,
		       scheduled_at, sent_at, delivered_at, created_at, updated_at
		FROM messages
		WHERE status = 'FAILED'
		  AND failure_type = $1
		  AND retry_count < $2
		  AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4`

	// findRescueCandidatesSQL implements the boundary rescue rule: a
	// message stuck in PENDING past the retry delay with no successful
	// history entry never made it onto the bus (the after-commit publish
	// failed or was never reached), so it is treated as a PUBLISH failure
	// and fed through the same claim/republish path.
	findRescueCandidatesSQL = `
		SELECT id, site_id, channel, status, recipient, subject, body, is_html,
		       image_url, video_url, document_url, file_name, caption,
		       from_email, from_name, whatsapp_session_name, metadata,
		       retry_count, failure_type, error_message,
		       scheduled_at, sent_at, delivered_at, created_at, updated_at
		FROM messages
		WHERE status = 'PENDING'
		  AND retry_count < $1
		  AND created_at < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM message_status_history h
		      WHERE h.message_id = messages.id
		        AND h.status IN ('SENT', 'DELIVERED')
		  )
		ORDER BY created_at ASC
		LIMIT $3`

	findDueScheduledSQL = `
		SELECT id FROM messages
		WHERE status = 'SCHEDULED' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`

	getMessageStatusSQL = `SELECT status FROM messages WHERE id = $1`

	getMessageSiteIDSQL = `SELECT site_id FROM messages WHERE id = $1`
)

// MessageRepository provides access to the messages table.
type MessageRepository struct {
	db  *sql.DB
	cfg *config.Config
	key []byte
}

// NewMessageRepository configures the connection pool and returns a ready
// repository. The encryption key, when encryption.enabled is set, is read
// from cfg.Encryption.Key by the caller and passed in separately so the
// repository layer never parses key material itself.
func NewMessageRepository(db *sql.DB, cfg *config.Config, encryptionKey []byte) (*MessageRepository, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return &MessageRepository{db: db, cfg: cfg, key: encryptionKey}, nil
}

func (r *MessageRepository) encrypt(s string) EncryptedString {
	return NewEncryptedString(s, r.key)
}

// InsertPending inserts a new PENDING (or SCHEDULED, depending on
// msg.Status) row inside tx. Callers are expected to wrap this in
// WithTransaction and register the bus publish as the afterCommit hook.
func (r *MessageRepository) InsertPending(ctx context.Context, tx *sql.Tx, msg *models.Message) error {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("insert"))
	defer timer.ObserveDuration()

	if err := msg.Validate(); err != nil {
		messageOps.WithLabelValues("insert", "validation_error").Inc()
		return errors.Wrap(err, "message validation failed")
	}

	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metadata")
	}

	var siteID interface{}
	if msg.SiteID != nil {
		siteID = *msg.SiteID
	}

	_, err = tx.ExecContext(ctx, insertMessageSQL,
		msg.ID, siteID, msg.Channel, msg.Status, msg.Recipient, msg.Subject,
		r.encrypt(msg.Body), msg.IsHTML, msg.ImageURL, msg.VideoURL,
		msg.DocumentURL, msg.FileName, msg.Caption, msg.FromEmail, msg.FromName,
		msg.WhatsAppSessionName, metadataJSON, msg.RetryCount, msg.ScheduledAt,
		msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		messageOps.WithLabelValues("insert", "error").Inc()
		return errors.Wrap(err, "failed to insert message")
	}

	messageOps.WithLabelValues("insert", "success").Inc()
	return nil
}

// ClaimForRetry performs the atomic FAILED -> RETRYING claim. It returns
// false, nil if another process already claimed (or finalized) the row.
func (r *MessageRepository) ClaimForRetry(ctx context.Context, tx *sql.Tx, messageID string) (bool, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("claim_for_retry"))
	defer timer.ObserveDuration()

	var id string
	err := tx.QueryRowContext(ctx, claimForRetrySQL, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		messageOps.WithLabelValues("claim_for_retry", "not_claimed").Inc()
		return false, nil
	}
	if err != nil {
		messageOps.WithLabelValues("claim_for_retry", "error").Inc()
		return false, errors.Wrap(err, "failed to claim message for retry")
	}

	messageOps.WithLabelValues("claim_for_retry", "success").Inc()
	return true, nil
}

// PromoteScheduled performs the atomic SCHEDULED -> PENDING batch claim and
// returns the full rows actually promoted by this call, so the caller can
// publish them without a second round-trip.
func (r *MessageRepository) PromoteScheduled(ctx context.Context, tx *sql.Tx, ids []string) ([]*models.Message, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("promote_scheduled"))
	defer timer.ObserveDuration()

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, promoteScheduledSQL, pq.Array(ids))
	if err != nil {
		messageOps.WithLabelValues("promote_scheduled", "error").Inc()
		return nil, errors.Wrap(err, "failed to promote scheduled messages")
	}
	defer rows.Close()

	promoted, err := r.scanRetryRows(rows, "promote_scheduled")
	if err != nil {
		return nil, err
	}

	messageOps.WithLabelValues("promote_scheduled", "success").Inc()
	return promoted, nil
}

// FinalizeDelivery marks a message SENT or DELIVERED, conditional on the row
// not already being in a terminal state. ok is false if another writer had
// already finalized the row first.
func (r *MessageRepository) FinalizeDelivery(ctx context.Context, tx *sql.Tx, messageID string, status models.Status, sentAt, deliveredAt *time.Time) (bool, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("finalize_delivery"))
	defer timer.ObserveDuration()

	var id string
	err := tx.QueryRowContext(ctx, finalizeDeliverySQL, messageID, status, sentAt, deliveredAt).Scan(&id)
	if err == sql.ErrNoRows {
		messageOps.WithLabelValues("finalize_delivery", "already_terminal").Inc()
		return false, nil
	}
	if err != nil {
		messageOps.WithLabelValues("finalize_delivery", "error").Inc()
		return false, errors.Wrap(err, "failed to finalize delivery")
	}

	messageOps.WithLabelValues("finalize_delivery", "success").Inc()
	return true, nil
}

// FinalizeFailure marks a message FAILED with the given failureType and
// error message, conditional on the row not already being in a terminal
// state.
func (r *MessageRepository) FinalizeFailure(ctx context.Context, tx *sql.Tx, messageID string, failureType models.FailureType, errMsg string) (bool, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("finalize_failure"))
	defer timer.ObserveDuration()

	var id string
	err := tx.QueryRowContext(ctx, finalizeFailureSQL, messageID, failureType, r.encrypt(errMsg)).Scan(&id)
	if err == sql.ErrNoRows {
		messageOps.WithLabelValues("finalize_failure", "already_terminal").Inc()
		return false, nil
	}
	if err != nil {
		messageOps.WithLabelValues("finalize_failure", "error").Inc()
		return false, errors.Wrap(err, "failed to finalize failure")
	}

	messageOps.WithLabelValues("finalize_failure", "success").Inc()
	return true, nil
}

// IncrementRetryAfterPublishFailure is the Retry Controller's sole mutation
// path for retryCount: it only runs after a failed bus publish for a
// message already claimed RETRYING. Returns the new retry count.
func (r *MessageRepository) IncrementRetryAfterPublishFailure(ctx context.Context, tx *sql.Tx, messageID string) (int, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("increment_retry"))
	defer timer.ObserveDuration()

	var count int
	err := tx.QueryRowContext(ctx, incrementRetrySQL, messageID).Scan(&count)
	if err != nil {
		messageOps.WithLabelValues("increment_retry", "error").Inc()
		return 0, errors.Wrap(err, "failed to increment retry count")
	}

	messageOps.WithLabelValues("increment_retry", "success").Inc()
	return count, nil
}

func (r *MessageRepository) scanMessage(scan func(dest ...interface{}) error) (*models.Message, error) {
	var msg models.Message
	var siteID sql.NullString
	var metadataJSON []byte
	var failureType sql.NullString
	errMsg := r.encrypt("")
	var scheduledAt, sentAt, deliveredAt sql.NullTime
	body := r.encrypt("")

	err := scan(
		&msg.ID, &siteID, &msg.Channel, &msg.Status, &msg.Recipient, &msg.Subject,
		&body, &msg.IsHTML, &msg.ImageURL, &msg.VideoURL, &msg.DocumentURL,
		&msg.FileName, &msg.Caption, &msg.FromEmail, &msg.FromName,
		&msg.WhatsAppSessionName, &metadataJSON, &msg.RetryCount, &failureType,
		&errMsg, &scheduledAt, &sentAt, &deliveredAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if siteID.Valid {
		id, parseErr := parseSiteID(siteID.String)
		if parseErr != nil {
			return nil, parseErr
		}
		msg.SiteID = id
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal metadata")
		}
	}
	if failureType.Valid {
		ft := models.FailureType(failureType.String)
		msg.FailureType = &ft
	}
	msg.ErrorMessage = errMsg.Plaintext
	msg.Body = body.Plaintext
	if scheduledAt.Valid {
		msg.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		msg.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}

	return &msg, nil
}

// FindRetryCandidates finds FAILED messages of the given failureType with
// retryCount below maxRetries that were created before olderThan.
func (r *MessageRepository) FindRetryCandidates(ctx context.Context, failureType models.FailureType, maxRetries int, olderThan time.Time, limit int) ([]*models.Message, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("find_retry_candidates"))
	defer timer.ObserveDuration()

	rows, err := r.db.QueryContext(ctx, findRetryCandidatesSQL, failureType, maxRetries, olderThan, limit)
	if err != nil {
		messageOps.WithLabelValues("find_retry_candidates", "error").Inc()
		return nil, errors.Wrap(err, "failed to query retry candidates")
	}
	defer rows.Close()

	return r.scanRetryRows(rows, "find_retry_candidates")
}

// FindRescueCandidates finds PENDING messages older than olderThan with no
// successful history entry — rows whose after-commit publish never
// happened or never landed — per the boundary rescue rule.
func (r *MessageRepository) FindRescueCandidates(ctx context.Context, maxRetries int, olderThan time.Time, limit int) ([]*models.Message, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("find_rescue_candidates"))
	defer timer.ObserveDuration()

	rows, err := r.db.QueryContext(ctx, findRescueCandidatesSQL, maxRetries, olderThan, limit)
	if err != nil {
		messageOps.WithLabelValues("find_rescue_candidates", "error").Inc()
		return nil, errors.Wrap(err, "failed to query rescue candidates")
	}
	defer rows.Close()

	return r.scanRetryRows(rows, "find_rescue_candidates")
}

func (r *MessageRepository) scanRetryRows(rows *sql.Rows, op string) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		msg, err := r.scanMessage(rows.Scan)
		if err != nil {
			messageOps.WithLabelValues(op, "error").Inc()
			return nil, errors.Wrap(err, "failed to scan message row")
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		messageOps.WithLabelValues(op, "error").Inc()
		return nil, errors.Wrap(err, "error iterating message rows")
	}
	messageOps.WithLabelValues(op, "success").Inc()
	return out, nil
}

// FindDueScheduled returns ids of SCHEDULED messages whose scheduledAt has
// passed, oldest first.
func (r *MessageRepository) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	timer := prometheus.NewTimer(messageOpDuration.WithLabelValues("find_due_scheduled"))
	defer timer.ObserveDuration()

	rows, err := r.db.QueryContext(ctx, findDueScheduledSQL, now, limit)
	if err != nil {
		messageOps.WithLabelValues("find_due_scheduled", "error").Inc()
		return nil, errors.Wrap(err, "failed to query due scheduled messages")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating scheduled rows")
	}

	messageOps.WithLabelValues("find_due_scheduled", "success").Inc()
	return ids, nil
}

// GetStatus returns the current status of a message row, used by the ledger
// to validate a transition before appending history.
func (r *MessageRepository) GetStatus(ctx context.Context, tx *sql.Tx, messageID string) (models.Status, error) {
	var status string
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, getMessageStatusSQL, messageID).Scan(&status)
	} else {
		err = r.db.QueryRowContext(ctx, getMessageStatusSQL, messageID).Scan(&status)
	}
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to load message status")
	}
	return models.Status(status), nil
}

// GetSiteID returns the tenant id bound to a message row, used by the
// Channel Worker to verify a bus payload's siteId matches the row it claims
// to describe before any credential resolution happens.
func (r *MessageRepository) GetSiteID(ctx context.Context, messageID string) (*uuid.UUID, error) {
	var siteID sql.NullString
	err := r.db.QueryRowContext(ctx, getMessageSiteIDSQL, messageID).Scan(&siteID)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load message site id")
	}
	if !siteID.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(siteID.String)
	if err != nil {
		return nil, errors.Wrap(err, "stored site id is not a valid uuid")
	}
	return &id, nil
}
