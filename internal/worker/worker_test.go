package worker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers"
)

type fakeStore struct {
	status           models.Status
	siteID           *uuid.UUID
	finalizedSuccess bool
	finalizedFailure bool
	lastFailureType  models.FailureType
}

func (f *fakeStore) GetStatus(ctx context.Context, tx *sql.Tx, messageID string) (models.Status, error) {
	return f.status, nil
}
func (f *fakeStore) GetSiteID(ctx context.Context, messageID string) (*uuid.UUID, error) {
	return f.siteID, nil
}
func (f *fakeStore) FinalizeDelivery(ctx context.Context, tx *sql.Tx, messageID string, status models.Status, sentAt, deliveredAt *time.Time) (bool, error) {
	f.finalizedSuccess = true
	return true, nil
}
func (f *fakeStore) FinalizeFailure(ctx context.Context, tx *sql.Tx, messageID string, failureType models.FailureType, errMsg string) (bool, error) {
	f.finalizedFailure = true
	f.lastFailureType = failureType
	return true, nil
}

type fakeHistory struct{ appended int }

func (f *fakeHistory) Append(ctx context.Context, messageID string, newStatus models.Status, errMsg string, retryCount int, source models.HistorySource) error {
	f.appended++
	return nil
}

type fakeProvider struct {
	result providers.Result
	err    error
}

func (p *fakeProvider) Name() providers.ProviderName { return providers.ProviderSendGrid }
func (p *fakeProvider) Send(ctx context.Context, payload bus.OutboundPayload, cred providers.Credential) (providers.Result, error) {
	return p.result, p.err
}

type fakeSiteLoader struct{ site *models.Site }

func (f fakeSiteLoader) FindByID(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	if f.site == nil {
		return nil, models.ErrNotFound
	}
	return f.site, nil
}

type fakeGlobalLoader struct{ cfg *models.GlobalProviderConfig }

func (f fakeGlobalLoader) Find(ctx context.Context, channel models.Channel) (*models.GlobalProviderConfig, error) {
	if f.cfg == nil {
		return nil, models.ErrNotFound
	}
	return f.cfg, nil
}

type fakeSessionLoader struct{ session *models.ChannelSession }

func (f fakeSessionLoader) FindBySiteAndName(ctx context.Context, siteID uuid.UUID, sessionName string) (*models.ChannelSession, error) {
	if f.session == nil {
		return nil, models.ErrNotFound
	}
	return f.session, nil
}

func newTestWorker(t *testing.T, channel models.Channel, store *fakeStore, history *fakeHistory, provider providers.Provider, siteLoader credentials.SiteLoader) (*Worker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()

	w := New(channel, nil, db, store, history, provider, siteLoader, fakeGlobalLoader{cfg: &models.GlobalProviderConfig{SendGridAPIKey: "k", EmailFromAddress: "a@b.com"}}, fakeSessionLoader{}, credentials.EnvDefaults{}, zerolog.Nop())
	return w, mock
}

func TestHandle_SkipsAlreadyTerminalMessage(t *testing.T) {
	store := &fakeStore{status: models.StatusDelivered}
	history := &fakeHistory{}
	provider := &fakeProvider{}
	w := New(models.ChannelEmail, nil, nil, store, history, provider, fakeSiteLoader{}, fakeGlobalLoader{}, fakeSessionLoader{}, credentials.EnvDefaults{}, zerolog.Nop())

	err := w.handle(context.Background(), bus.InboundPayload{MessageID: "m1"})
	assert.NoError(t, err)
	assert.False(t, store.finalizedSuccess)
	assert.False(t, store.finalizedFailure)
	assert.Equal(t, 0, history.appended)
}

func TestHandle_TenantMismatchFailsConsumer(t *testing.T) {
	rowSite := uuid.New()
	payloadSite := uuid.New()
	store := &fakeStore{status: models.StatusPending, siteID: &rowSite}
	history := &fakeHistory{}
	provider := &fakeProvider{result: providers.Success()}
	w, mock := newTestWorker(t, models.ChannelEmail, store, history, provider, fakeSiteLoader{})

	err := w.handle(context.Background(), bus.InboundPayload{MessageID: "m1", SiteID: payloadSite.String()})
	require.NoError(t, err)
	assert.True(t, store.finalizedFailure)
	assert.Equal(t, models.FailureTypeConsumer, store.lastFailureType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandle_SuccessfulEmailSendFinalizesDelivered(t *testing.T) {
	store := &fakeStore{status: models.StatusPending}
	history := &fakeHistory{}
	provider := &fakeProvider{result: providers.Success()}
	w, mock := newTestWorker(t, models.ChannelEmail, store, history, provider, fakeSiteLoader{})

	err := w.handle(context.Background(), bus.InboundPayload{MessageID: "m1", Channel: models.ChannelEmail, Recipient: "a@b.com"})
	require.NoError(t, err)
	assert.True(t, store.finalizedSuccess)
	assert.Equal(t, 1, history.appended)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandle_ProviderFailureFinalizesFailedNotRetryCount(t *testing.T) {
	store := &fakeStore{status: models.StatusPending}
	history := &fakeHistory{}
	provider := &fakeProvider{result: providers.Failure(models.CategoryTemporary, "temporary outage")}
	w, mock := newTestWorker(t, models.ChannelEmail, store, history, provider, fakeSiteLoader{})

	err := w.handle(context.Background(), bus.InboundPayload{MessageID: "m1", Channel: models.ChannelEmail, Recipient: "a@b.com"})
	require.NoError(t, err)
	assert.True(t, store.finalizedFailure)
	assert.Equal(t, models.FailureTypeConsumer, store.lastFailureType)
	require.NoError(t, mock.ExpectationsWereMet())
}
