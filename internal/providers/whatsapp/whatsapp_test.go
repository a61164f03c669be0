package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers"
	waclient "github.com/notifyhub/dispatch/pkg/whatsapp"
)

func TestSend_WrongCredentialTypeReturnsConfigFailure(t *testing.T) {
	client, err := waclient.NewClient("placeholder", "http://unused", nil)
	require.NoError(t, err)
	adapter := NewAdapter(client)

	result, err := adapter.Send(context.Background(), bus.OutboundPayload{}, credentials.EmailCredential{})
	require.NoError(t, err)
	require.False(t, result.OK)
	require.Equal(t, models.CategoryConfig, result.Category)
}

func TestSend_SuccessfulSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"wamid.1","status":"sent"}`))
	}))
	defer srv.Close()

	client, err := waclient.NewClient("placeholder", srv.URL, nil)
	require.NoError(t, err)
	adapter := NewAdapter(client)

	result, err := adapter.Send(context.Background(), bus.OutboundPayload{Recipient: "+15550001111", Body: "hi"}, credentials.WhatsAppCredential{SessionAPIKey: "session-key"})
	require.NoError(t, err)
	require.True(t, result.OK)
}

func TestMessageType_PrefersImageOverVideoOverDocument(t *testing.T) {
	require.Equal(t, waclient.MediaTypeImage, messageType(bus.OutboundPayload{ImageURL: "a", VideoURL: "b"}))
	require.Equal(t, waclient.MediaTypeVideo, messageType(bus.OutboundPayload{VideoURL: "b"}))
	require.Equal(t, waclient.MediaTypeDocument, messageType(bus.OutboundPayload{DocumentURL: "c"}))
	require.Equal(t, "text", messageType(bus.OutboundPayload{}))
}

func TestMessageContent_DocumentCarriesFileName(t *testing.T) {
	content := messageContent(bus.OutboundPayload{DocumentURL: "doc.pdf", FileName: "invoice.pdf"})
	require.Equal(t, "doc.pdf", content.MediaURL)
	require.Equal(t, "invoice.pdf", content.MediaName)
	require.Equal(t, waclient.MediaTypeDocument, content.MediaType)
}

func TestCategorizeAPIError_AuthCodesMapToCategoryAuth(t *testing.T) {
	require.Equal(t, models.CategoryAuth, categorizeAPIError(&waclient.APIError{Code: 401}))
	require.Equal(t, models.CategoryAuth, categorizeAPIError(&waclient.APIError{Code: 403}))
}

func TestCategorizeAPIError_RecoverableMapsToTemporary(t *testing.T) {
	require.Equal(t, models.CategoryTemporary, categorizeAPIError(&waclient.APIError{Code: 500, Recoverable: true}))
}

func TestCategorizeAPIError_UnrecoverableMapsToPermanent(t *testing.T) {
	require.Equal(t, models.CategoryPermanent, categorizeAPIError(&waclient.APIError{Code: 400, Recoverable: false}))
}

func TestSynthesizeMessage_IncludesSubCodeWhenPresent(t *testing.T) {
	msg := synthesizeMessage(&waclient.APIError{Code: 131, SubCode: "131026", Message: "message undeliverable"})
	require.Contains(t, msg, "131026")
	require.Contains(t, msg, "message undeliverable")
}

func TestName_ReturnsWhatsAppBusiness(t *testing.T) {
	client, err := waclient.NewClient("placeholder", "http://unused", nil)
	require.NoError(t, err)
	adapter := NewAdapter(client)
	require.Equal(t, providers.ProviderWhatsApp, adapter.Name())
}
