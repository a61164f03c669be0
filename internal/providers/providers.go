// Package providers defines the adapter contract shared by every outbound
// channel provider (SendGrid for EMAIL, WhatsApp Business API for
// WHATSAPP): a uniform send() that reports a categorized result instead of
// raising channel-specific errors up through the worker.
package providers

import (
	"context"
	"net/http"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/models"
)

// ProviderName identifies a concrete provider implementation.
type ProviderName string

const (
	ProviderSendGrid ProviderName = "SENDGRID"
	ProviderWhatsApp ProviderName = "WHATSAPP_BUSINESS"
)

// Result is what Send returns: either success, or a categorized failure
// with a message the worker can store directly in errorMessage.
type Result struct {
	OK       bool
	Category models.Category
	Message  string
}

// Success builds a successful Result.
func Success() Result { return Result{OK: true} }

// Failure builds a failed Result with the given category and message.
func Failure(category models.Category, message string) Result {
	return Result{OK: false, Category: category, Message: message}
}

// Credential is satisfied by credentials.EmailCredential and
// credentials.WhatsAppCredential; adapters type-assert to their own kind.
type Credential interface{}

// Provider is implemented by every channel adapter.
type Provider interface {
	Name() ProviderName
	Send(ctx context.Context, payload bus.OutboundPayload, cred Credential) (Result, error)
}

// CategorizeHTTPStatus implements the shared HTTP-status-to-category
// mapping rule used by every HTTP-based provider adapter: 401/403 are
// authentication failures, 429 and 5xx are transient, any other 4xx is
// treated as permanent.
func CategorizeHTTPStatus(status int) models.Category {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.CategoryAuth
	case status == http.StatusTooManyRequests || status >= 500:
		return models.CategoryTemporary
	case status >= 400:
		return models.CategoryPermanent
	default:
		return models.CategoryTemporary
	}
}
