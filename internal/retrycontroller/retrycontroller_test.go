package retrycontroller

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/models"
)

type fakeStore struct {
	claimed            bool
	incremented        int
	finalizeCalls      int
	lastFinalizeErrMsg string
	queriedFailureTypes []models.FailureType
	rescueScanned      bool
}

func (f *fakeStore) ClaimForRetry(ctx context.Context, tx *sql.Tx, messageID string) (bool, error) {
	f.claimed = true
	return true, nil
}
func (f *fakeStore) IncrementRetryAfterPublishFailure(ctx context.Context, tx *sql.Tx, messageID string) (int, error) {
	f.incremented++
	return f.incremented, nil
}
func (f *fakeStore) FinalizeFailure(ctx context.Context, tx *sql.Tx, messageID string, failureType models.FailureType, errMsg string) (bool, error) {
	f.finalizeCalls++
	f.lastFinalizeErrMsg = errMsg
	return true, nil
}
func (f *fakeStore) FindRetryCandidates(ctx context.Context, failureType models.FailureType, maxRetries int, olderThan time.Time, limit int) ([]*models.Message, error) {
	f.queriedFailureTypes = append(f.queriedFailureTypes, failureType)
	return nil, nil
}
func (f *fakeStore) FindRescueCandidates(ctx context.Context, maxRetries int, olderThan time.Time, limit int) ([]*models.Message, error) {
	f.rescueScanned = true
	return nil, nil
}

type fakeHistory struct {
	appended    []models.Status
	errMessages []string
}

func (f *fakeHistory) Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error {
	f.appended = append(f.appended, newStatus)
	f.errMessages = append(f.errMessages, errMsg)
	return nil
}

type fakePublisher struct {
	publishErr error
	dlqCalls   int
}

func (p *fakePublisher) Publish(ctx context.Context, channel models.Channel, payload bus.OutboundPayload) error {
	return p.publishErr
}
func (p *fakePublisher) PublishDLQ(ctx context.Context, channel models.Channel, payload bus.OutboundPayload) error {
	p.dlqCalls++
	return nil
}

func newTestController(t *testing.T, store *fakeStore, history *fakeHistory, publisher *fakePublisher, maxRetries int) (*Controller, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	c := New(db, store, history, publisher, maxRetries, 10, time.Minute, []models.Channel{models.ChannelEmail}, zerolog.Nop())
	return c, mock
}

func TestScanOnce_QueriesBothPublishAndConsumerFailureTypes(t *testing.T) {
	store := &fakeStore{}
	history := &fakeHistory{}
	publisher := &fakePublisher{}
	c, _ := newTestController(t, store, history, publisher, 5)

	c.scanOnce(context.Background())

	require.ElementsMatch(t, []models.FailureType{models.FailureTypePublish, models.FailureTypeConsumer}, store.queriedFailureTypes)
	require.True(t, store.rescueScanned)
}

func TestProcessCandidate_SuccessfulRepublishAppendsRetryingThenPendingHistory(t *testing.T) {
	store := &fakeStore{}
	history := &fakeHistory{}
	publisher := &fakePublisher{}
	c, mock := newTestController(t, store, history, publisher, 5)
	mock.ExpectBegin()
	mock.ExpectCommit()

	c.processCandidate(context.Background(), &models.Message{ID: "m1", Channel: models.ChannelEmail, RetryCount: 1})

	require.NoError(t, mock.ExpectationsWereMet())
	require.True(t, store.claimed)
	require.Equal(t, []models.Status{models.StatusRetrying, models.StatusPending}, history.appended)
	require.Equal(t, 0, publisher.dlqCalls)
}

func TestProcessCandidate_PublishFailureIncrementsRetryAndReturnsToFailed(t *testing.T) {
	store := &fakeStore{}
	history := &fakeHistory{}
	publisher := &fakePublisher{publishErr: context.DeadlineExceeded}
	c, mock := newTestController(t, store, history, publisher, 5)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	c.processCandidate(context.Background(), &models.Message{ID: "m1", Channel: models.ChannelEmail, RetryCount: 1})

	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 1, store.incremented)
	require.Equal(t, 1, store.finalizeCalls)
	require.Equal(t, []models.Status{models.StatusRetrying, models.StatusFailed}, history.appended)
	require.Equal(t, 0, publisher.dlqCalls)
}

func TestProcessCandidate_ExhaustedRetryBudgetDeadLettersWithExhaustionMessage(t *testing.T) {
	store := &fakeStore{incremented: 4}
	history := &fakeHistory{}
	publisher := &fakePublisher{publishErr: context.DeadlineExceeded}
	c, mock := newTestController(t, store, history, publisher, 5)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	c.processCandidate(context.Background(), &models.Message{ID: "m1", Channel: models.ChannelEmail, RetryCount: 4})

	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 1, publisher.dlqCalls)
	require.Contains(t, store.lastFinalizeErrMsg, "Max retries exceeded")
	require.Equal(t, store.lastFinalizeErrMsg, history.errMessages[len(history.errMessages)-1])
}
