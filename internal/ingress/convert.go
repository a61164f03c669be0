package ingress

import (
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/models"
)

// buildMessage constructs a Message row from a validated SendRequest,
// binding it to site's tenant id when one is authenticated.
func buildMessage(req *SendRequest, site *models.Site) *models.Message {
	var siteID *uuid.UUID
	if site != nil {
		id := site.ID
		siteID = &id
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil && *req.ScheduledAt != "" {
		if t, err := time.Parse(time.RFC3339, *req.ScheduledAt); err == nil {
			scheduledAt = &t
		}
	}

	msg := models.NewMessage(req.Channel, siteID, req.Recipient, scheduledAt)
	msg.Subject = req.Subject
	msg.Body = req.Body
	msg.IsHTML = req.IsHTML
	msg.ImageURL = req.ImageURL
	msg.VideoURL = req.VideoURL
	msg.DocumentURL = req.DocumentURL
	msg.FileName = req.FileName
	msg.Caption = req.Caption
	msg.FromEmail = req.FromEmail
	msg.FromName = req.FromName
	msg.WhatsAppSessionName = req.WhatsAppSessionName
	msg.Metadata = req.Metadata
	return msg
}

// toOutboundPayload projects a Message row into the payload shape the bus
// carries, deliberately excluding anything credential-bearing.
func toOutboundPayload(msg *models.Message) bus.OutboundPayload {
	payload := bus.OutboundPayload{
		MessageID:           msg.ID,
		Channel:             msg.Channel,
		Recipient:           msg.Recipient,
		Subject:             msg.Subject,
		Body:                msg.Body,
		IsHTML:              msg.IsHTML,
		ImageURL:            msg.ImageURL,
		VideoURL:            msg.VideoURL,
		DocumentURL:         msg.DocumentURL,
		FileName:            msg.FileName,
		Caption:             msg.Caption,
		FromEmail:           msg.FromEmail,
		FromName:            msg.FromName,
		WhatsAppSessionName: msg.WhatsAppSessionName,
		Metadata:            msg.Metadata,
		RetryCount:          msg.RetryCount,
	}
	if msg.SiteID != nil {
		payload.SiteID = msg.SiteID.String()
	}
	return payload
}
