package retrycontroller

import (
	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/models"
)

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
