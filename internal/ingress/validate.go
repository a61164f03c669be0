// Package ingress implements the HTTP front door: site-key authentication,
// channel-aware request validation, and the transactional insert+publish
// path for POST /send, covering every channel in models.Channel rather
// than a single WhatsApp-only surface.
package ingress

import (
	"regexp"
	"sync"

	"github.com/notifyhub/dispatch/internal/models"
)

var compiledRegexCache sync.Map

func getCompiledRegex(pattern string) *regexp.Regexp {
	if compiled, ok := compiledRegexCache.Load(pattern); ok {
		return compiled.(*regexp.Regexp)
	}
	compiled := regexp.MustCompile(pattern)
	compiledRegexCache.Store(pattern, compiled)
	return compiled
}

const (
	phoneNumberPattern = `^\+[1-9]\d{1,14}$`
	maxBodyLength       = 4096
	maxSubjectLength    = 998
)

// SendRequest is the wire shape of POST /send, channel-agnostic until
// validated against the rules for its Channel.
type SendRequest struct {
	Channel             models.Channel    `json:"channel" binding:"required"`
	Recipient           string            `json:"recipient" binding:"required"`
	Subject             string            `json:"subject"`
	Body                string            `json:"body"`
	IsHTML              bool              `json:"isHtml"`
	ImageURL            string            `json:"imageUrl"`
	VideoURL            string            `json:"videoUrl"`
	DocumentURL         string            `json:"documentUrl"`
	FileName            string            `json:"fileName"`
	Caption             string            `json:"caption"`
	FromEmail           string            `json:"fromEmail"`
	FromName            string            `json:"fromName"`
	WhatsAppSessionName string            `json:"whatsappSessionName"`
	Metadata            map[string]string `json:"metadata"`
	ScheduledAt         *string           `json:"scheduledAt"`
}

// validateSendRequest enforces per-channel content rules: EMAIL requires a
// body, WHATSAPP requires an E.164-shaped recipient and at least one of body
// or a media URL. The body and subject length caps are checked for EMAIL only.
func validateSendRequest(req *SendRequest) error {
	if req.Recipient == "" {
		return models.ErrInvalidRequest
	}

	switch req.Channel {
	case models.ChannelEmail:
		if req.Body == "" {
			return models.ErrInvalidRequest
		}
		if len(req.Body) > maxBodyLength {
			return models.ErrInvalidRequest
		}
		if len(req.Subject) > maxSubjectLength {
			return models.ErrInvalidRequest
		}
	case models.ChannelWhatsApp:
		if !getCompiledRegex(phoneNumberPattern).MatchString(req.Recipient) {
			return models.ErrInvalidRequest
		}
		if req.Body == "" && req.ImageURL == "" && req.VideoURL == "" && req.DocumentURL == "" {
			return models.ErrInvalidRequest
		}
	default:
		return models.ErrInvalidRequest
	}

	return nil
}
