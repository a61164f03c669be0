// Package models defines the core persistent types of the dispatch pipeline:
// Message, StatusHistory, Site, ChannelSession and GlobalProviderConfig.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Channel identifies the outbound delivery medium for a Message.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

// Status is the lifecycle state of a Message row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRetrying  Status = "RETRYING"
	StatusScheduled Status = "SCHEDULED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusBounced   Status = "BOUNCED"
	StatusRejected  Status = "REJECTED"
)

// FailureType classifies which layer produced a FAILED status.
type FailureType string

const (
	FailureTypePublish  FailureType = "PUBLISH"
	FailureTypeConsumer FailureType = "CONSUMER"
)

// HistorySource identifies which actor wrote a StatusHistory entry.
type HistorySource string

const (
	SourceAPI     HistorySource = "API"
	SourceTrigger HistorySource = "TRIGGER"
	SourceWorker  HistorySource = "WORKER"
)

// Category classifies a provider or processing failure.
type Category string

const (
	CategoryAuth      Category = "AUTH"
	CategoryConfig    Category = "CONFIG"
	CategoryPermanent Category = "PERMANENT"
	CategoryTemporary Category = "TEMPORARY"
)

// Sentinel errors mirroring the error taxonomy.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTenantMismatch    = errors.New("tenant isolation violation")
	ErrConfig            = errors.New("configuration error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
)

// Message is the primary row: one per accepted send request.
type Message struct {
	ID      string
	SiteID  *uuid.UUID
	Channel Channel
	Status  Status

	Recipient           string
	Subject             string
	Body                string
	IsHTML              bool
	ImageURL            string
	VideoURL            string
	DocumentURL         string
	FileName            string
	Caption             string
	FromEmail           string
	FromName            string
	WhatsAppSessionName string
	Metadata            map[string]string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ScheduledAt *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time

	RetryCount   int
	FailureType  *FailureType
	ErrorMessage string
}

// NewMessage constructs a Message in PENDING (or SCHEDULED, if scheduledAt is
// set and in the future) status with retryCount 0 and no failure type.
func NewMessage(channel Channel, siteID *uuid.UUID, recipient string, scheduledAt *time.Time) *Message {
	now := time.Now()
	status := StatusPending
	if scheduledAt != nil && scheduledAt.After(now) {
		status = StatusScheduled
	}

	return &Message{
		ID:          uuid.New().String(),
		SiteID:      siteID,
		Channel:     channel,
		Status:      status,
		Recipient:   recipient,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		RetryCount:  0,
	}
}

// Validate enforces the Message-row invariants: status/failureType
// consistency, channel/tenant binding, and non-negative retry count.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.Channel == ChannelWhatsApp && m.SiteID == nil {
		return errors.New("whatsapp messages require a siteId")
	}
	if (m.Status == StatusFailed) != (m.FailureType != nil) {
		return errors.New("status=FAILED must coincide with a non-nil failureType")
	}
	if m.RetryCount < 0 {
		return errors.New("retryCount cannot be negative")
	}
	return nil
}

// StatusHistory is an append-only record of a Message status transition.
type StatusHistory struct {
	MessageID    string
	Status       Status
	ErrorMessage string
	RetryCount   int
	Timestamp    time.Time
	Source       HistorySource
}

// Site is the tenant record; read-only from the core's perspective.
type Site struct {
	ID                  uuid.UUID
	SiteName            string
	APIKeyHash          string
	APIKeyLookup        string // indexed digest used for constant-time lookup
	SendGridAPIKey      string
	EmailFromAddress    string
	EmailFromName       string
	WhatsAppSessionName string
	Active              bool
	Deleted             bool
}

// ChannelSession is a provider-side binding owned by a site (e.g. WhatsApp).
type ChannelSession struct {
	SiteUserID    uuid.UUID
	SessionName   string
	SessionAPIKey string
	Active        bool
	Deleted       bool
}

// GlobalProviderConfig holds optional fallback credentials used only when a
// site has none configured.
type GlobalProviderConfig struct {
	Channel          Channel
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
	Active           bool
}
