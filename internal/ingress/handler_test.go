package ingress

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/models"
)

type fakeInserter struct {
	insertErr error
	inserted  *models.Message
}

func (f *fakeInserter) InsertPending(ctx context.Context, tx *sql.Tx, msg *models.Message) error {
	f.inserted = msg
	return f.insertErr
}

type fakePublisher struct {
	published []bus.OutboundPayload
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, channel models.Channel, payload bus.OutboundPayload) error {
	f.published = append(f.published, payload)
	return f.err
}

func (f *fakePublisher) PublishDLQ(ctx context.Context, channel models.Channel, payload bus.OutboundPayload) error {
	return nil
}

func newTestHandler(t *testing.T, inserter *fakeInserter, publisher *fakePublisher) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	h := NewHandler(db, inserter, publisher)
	r := gin.New()
	h.RegisterRoutes(r)
	return r, mock
}

func postSend(r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleSend_EmailAcceptedAndPublishedAfterCommit(t *testing.T) {
	inserter := &fakeInserter{}
	publisher := &fakePublisher{}
	r, mock := newTestHandler(t, inserter, publisher)
	mock.ExpectBegin()
	mock.ExpectCommit()

	rec := postSend(r, map[string]interface{}{
		"channel":   "EMAIL",
		"recipient": "user@example.com",
		"body":      "hello",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, publisher.published, 1)
	require.NotNil(t, inserter.inserted)
}

func TestHandleSend_InvalidRequestRejectedBeforeInsert(t *testing.T) {
	inserter := &fakeInserter{}
	publisher := &fakePublisher{}
	r, _ := newTestHandler(t, inserter, publisher)

	rec := postSend(r, map[string]interface{}{
		"channel":   "EMAIL",
		"recipient": "user@example.com",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, inserter.inserted)
}

func TestHandleSend_WhatsAppWithoutAuthenticatedSiteRejected(t *testing.T) {
	inserter := &fakeInserter{}
	publisher := &fakePublisher{}
	r, _ := newTestHandler(t, inserter, publisher)

	rec := postSend(r, map[string]interface{}{
		"channel":   "WHATSAPP",
		"recipient": "+15550001111",
		"body":      "hi",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSend_InsertFailureReturnsServerError(t *testing.T) {
	inserter := &fakeInserter{insertErr: sql.ErrConnDone}
	publisher := &fakePublisher{}
	r, mock := newTestHandler(t, inserter, publisher)
	mock.ExpectBegin()
	mock.ExpectRollback()

	rec := postSend(r, map[string]interface{}{
		"channel":   "EMAIL",
		"recipient": "user@example.com",
		"body":      "hello",
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, publisher.published)
}

func TestHandleSend_ScheduledMessageNotPublishedAtAcceptance(t *testing.T) {
	inserter := &fakeInserter{}
	publisher := &fakePublisher{}
	r, mock := newTestHandler(t, inserter, publisher)
	mock.ExpectBegin()
	mock.ExpectCommit()

	future := "2099-01-01T00:00:00Z"
	rec := postSend(r, map[string]interface{}{
		"channel":     "EMAIL",
		"recipient":   "user@example.com",
		"body":        "hello",
		"scheduledAt": future,
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, publisher.published)
}
