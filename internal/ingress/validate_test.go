package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/dispatch/internal/models"
)

func TestValidateSendRequest_EmailRequiresBody(t *testing.T) {
	req := &SendRequest{Channel: models.ChannelEmail, Recipient: "a@example.com"}
	assert.ErrorIs(t, validateSendRequest(req), models.ErrInvalidRequest)

	req.Body = "hello"
	assert.NoError(t, validateSendRequest(req))
}

func TestValidateSendRequest_WhatsAppRequiresE164Recipient(t *testing.T) {
	req := &SendRequest{Channel: models.ChannelWhatsApp, Recipient: "not-a-phone", Body: "hi"}
	assert.ErrorIs(t, validateSendRequest(req), models.ErrInvalidRequest)

	req.Recipient = "+15551234567"
	assert.NoError(t, validateSendRequest(req))
}

func TestValidateSendRequest_WhatsAppAllowsMediaOnlyMessage(t *testing.T) {
	req := &SendRequest{Channel: models.ChannelWhatsApp, Recipient: "+15551234567", ImageURL: "https://example.com/a.png"}
	assert.NoError(t, validateSendRequest(req))
}

func TestValidateSendRequest_UnknownChannelRejected(t *testing.T) {
	req := &SendRequest{Channel: "SMS", Recipient: "+15551234567"}
	assert.ErrorIs(t, validateSendRequest(req), models.ErrInvalidRequest)
}

func TestValidateSendRequest_MissingRecipientRejected(t *testing.T) {
	req := &SendRequest{Channel: models.ChannelEmail, Body: "hi"}
	assert.ErrorIs(t, validateSendRequest(req), models.ErrInvalidRequest)
}
