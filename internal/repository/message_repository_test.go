package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/models"
)

func newTestRepo(t *testing.T) (*MessageRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	cfg := &config.Config{Database: config.DatabaseConfig{MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute}}
	repo, err := NewMessageRepository(db, cfg, nil)
	require.NoError(t, err)
	return repo, mock
}

func promotedRow(mock sqlmock.Sqlmock, id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "site_id", "channel", "status", "recipient", "subject", "body", "is_html",
		"image_url", "video_url", "document_url", "file_name", "caption",
		"from_email", "from_name", "whatsapp_session_name", "metadata",
		"retry_count", "failure_type", "error_message",
		"scheduled_at", "sent_at", "delivered_at", "created_at", "updated_at",
	}).AddRow(
		id, nil, models.ChannelEmail, models.StatusPending, "a@b.com", "subj", "body", false,
		"", "", "", "", "",
		"from@b.com", "From", "", []byte("{}"),
		0, nil, nil,
		nil, nil, nil, time.Now(), time.Now(),
	)
}

func TestPromoteScheduled_EmptyIDsReturnsNilWithoutQuery(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	promoted, err := repo.PromoteScheduled(context.Background(), tx, nil)
	require.NoError(t, err)
	require.Nil(t, promoted)
}

func TestPromoteScheduled_ReturnsFullRows(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE messages`).WillReturnRows(promotedRow(mock, "msg-1"))

	promoted, err := repo.PromoteScheduled(context.Background(), tx, []string{"msg-1"})
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	require.Equal(t, "msg-1", promoted[0].ID)
	require.Equal(t, models.ChannelEmail, promoted[0].Channel)
}

func TestClaimForRetry_AlreadyClaimedReturnsFalse(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE messages`).WillReturnError(sql.ErrNoRows)

	ok, err := repo.ClaimForRetry(context.Background(), tx, "msg-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimForRetry_SuccessfulClaim(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE messages`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-1"))

	ok, err := repo.ClaimForRetry(context.Background(), tx, "msg-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFinalizeDelivery_AlreadyTerminalReturnsFalse(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE messages`).WillReturnError(sql.ErrNoRows)

	ok, err := repo.FinalizeDelivery(context.Background(), tx, "msg-1", models.StatusDelivered, nil, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFinalizeFailure_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE messages`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-1"))

	ok, err := repo.FinalizeFailure(context.Background(), tx, "msg-1", models.FailureTypePublish, "boom")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIncrementRetryAfterPublishFailure_ReturnsNewCount(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectBegin()
	tx, err := repo.db.Begin()
	require.NoError(t, err)

	mock.ExpectQuery(`UPDATE messages`).WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(3))

	count, err := repo.IncrementRetryAfterPublishFailure(context.Background(), tx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestFindRetryCandidates_ScansRows(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT id, site_id, channel`).WillReturnRows(promotedRow(mock, "msg-2"))

	found, err := repo.FindRetryCandidates(context.Background(), models.FailureTypePublish, 5, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "msg-2", found[0].ID)
}

func TestFindRescueCandidates_ScansRows(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT id, site_id, channel`).WillReturnRows(promotedRow(mock, "msg-3"))

	found, err := repo.FindRescueCandidates(context.Background(), 5, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "msg-3", found[0].ID)
}

func TestFindDueScheduled_ReturnsIDs(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT id FROM messages`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-4").AddRow("msg-5"))

	ids, err := repo.FindDueScheduled(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, []string{"msg-4", "msg-5"}, ids)
}

func TestGetStatus_NotFoundMapsToErrNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT status FROM messages`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetStatus(context.Background(), nil, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetSiteID_ParsesUUID(t *testing.T) {
	repo, mock := newTestRepo(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT site_id FROM messages`).WillReturnRows(sqlmock.NewRows([]string{"site_id"}).AddRow(id.String()))

	got, err := repo.GetSiteID(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Equal(t, id, *got)
}

func TestGetSiteID_NullSiteIDReturnsNil(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT site_id FROM messages`).WillReturnRows(sqlmock.NewRows([]string{"site_id"}).AddRow(nil))

	got, err := repo.GetSiteID(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Nil(t, got)
}
