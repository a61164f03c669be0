package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/models"
)

type fakeReader struct {
	status models.Status
}

func (f fakeReader) GetStatus(ctx context.Context, tx *sql.Tx, messageID string) (models.Status, error) {
	return f.status, nil
}

func newTestLedger(t *testing.T, currentStatus models.Status) (*Ledger, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(db, rdb, fakeReader{status: currentStatus})
	return l, mock, mr
}

func TestAppend_RejectsInvalidTransition(t *testing.T) {
	l, _, _ := newTestLedger(t, models.StatusDelivered)

	err := l.Append(context.Background(), "msg-1", models.StatusPending, "", 0, models.SourceAPI)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAppend_InsertsOnValidTransition(t *testing.T) {
	l, mock, _ := newTestLedger(t, models.StatusPending)

	mock.ExpectExec("INSERT INTO message_status_history").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.Append(context.Background(), "msg-1", models.StatusSent, "", 0, models.SourceWorker)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_DedupsWithinWindowViaRedis(t *testing.T) {
	l, mock, _ := newTestLedger(t, models.StatusPending)

	mock.ExpectExec("INSERT INTO message_status_history").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	err := l.Append(ctx, "msg-1", models.StatusSent, "", 0, models.SourceWorker)
	assert.NoError(t, err)

	// Second call for the same (messageId, newStatus) within the window is
	// suppressed by the redis SETNX guard before it ever reaches Postgres.
	err = l.Append(ctx, "msg-1", models.StatusSent, "", 0, models.SourceTrigger)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
