// Package whatsapp adapts pkg/whatsapp.Client to the providers.Provider
// contract, resolving a per-tenant session key from credentials.WhatsAppCredential
// instead of a single client-wide key.
package whatsapp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers"
	"github.com/notifyhub/dispatch/internal/sanitize"
	"github.com/notifyhub/dispatch/pkg/whatsapp"
)

// Adapter wraps a shared *whatsapp.Client. The client's transport, rate
// limiter, and circuit breaker are shared across tenants; only the api key
// passed to SendMessageWithKey varies per call.
type Adapter struct {
	client *whatsapp.Client
}

// NewAdapter constructs an Adapter over an already-configured client.
func NewAdapter(client *whatsapp.Client) *Adapter {
	return &Adapter{client: client}
}

// Name identifies this adapter.
func (a *Adapter) Name() providers.ProviderName { return providers.ProviderWhatsApp }

// Send resolves content from the payload and sends it using the session
// key carried in cred, never the client's own configured key.
func (a *Adapter) Send(ctx context.Context, payload bus.OutboundPayload, cred providers.Credential) (providers.Result, error) {
	wa, ok := cred.(credentials.WhatsAppCredential)
	if !ok {
		return providers.Failure(models.CategoryConfig, "credential is not a whatsapp credential"), nil
	}

	message := &whatsapp.Message{
		ID:      uuid.NewString(),
		To:      payload.Recipient,
		Type:    messageType(payload),
		Content: messageContent(payload),
	}

	resp, err := a.client.SendMessageWithKey(ctx, wa.SessionAPIKey, message)
	if err != nil {
		return mapSendError(err), nil
	}

	if resp != nil && resp.Error != nil {
		return providers.Failure(categorizeAPIError(resp.Error), sanitize.String(synthesizeMessage(resp.Error))), nil
	}

	return providers.Success(), nil
}

func messageType(payload bus.OutboundPayload) string {
	switch {
	case payload.ImageURL != "":
		return whatsapp.MediaTypeImage
	case payload.VideoURL != "":
		return whatsapp.MediaTypeVideo
	case payload.DocumentURL != "":
		return whatsapp.MediaTypeDocument
	default:
		return "text"
	}
}

func messageContent(payload bus.OutboundPayload) whatsapp.MessageContent {
	content := whatsapp.MessageContent{
		Text:    payload.Body,
		Caption: payload.Caption,
	}
	switch {
	case payload.ImageURL != "":
		content.MediaURL = payload.ImageURL
		content.MediaType = whatsapp.MediaTypeImage
	case payload.VideoURL != "":
		content.MediaURL = payload.VideoURL
		content.MediaType = whatsapp.MediaTypeVideo
	case payload.DocumentURL != "":
		content.MediaURL = payload.DocumentURL
		content.MediaType = whatsapp.MediaTypeDocument
		content.MediaName = payload.FileName
	}
	return content
}

// synthesizeMessage builds a message from the structured error fields the
// client already decoded, never the raw response body.
func synthesizeMessage(apiErr *whatsapp.APIError) string {
	if apiErr.SubCode != "" {
		return fmt.Sprintf("whatsapp error %d (%s): %s", apiErr.Code, apiErr.SubCode, apiErr.Message)
	}
	return fmt.Sprintf("whatsapp error %d: %s", apiErr.Code, apiErr.Message)
}

func categorizeAPIError(apiErr *whatsapp.APIError) models.Category {
	switch apiErr.Code {
	case 401, 403:
		return models.CategoryAuth
	}
	if apiErr.Recoverable {
		return models.CategoryTemporary
	}
	return models.CategoryPermanent
}

// mapSendError categorizes transport-level failures (rate limit, circuit
// breaker, context deadline, max retries) the client returns as plain
// errors rather than structured APIError values.
func mapSendError(err error) providers.Result {
	msg := sanitize.String(err.Error())
	switch {
	case err == whatsapp.ErrRateLimitExceeded:
		return providers.Failure(models.CategoryTemporary, msg)
	case err == whatsapp.ErrCircuitOpen:
		return providers.Failure(models.CategoryTemporary, msg)
	default:
		return providers.Failure(models.CategoryTemporary, msg)
	}
}
