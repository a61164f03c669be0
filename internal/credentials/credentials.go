// Package credentials implements the Credential Resolver: pure lookup
// functions from message context (siteId, optional session name) to
// provider credentials. Nothing here touches the bus or a logger — callers
// hold the returned struct only in a stack frame for the duration of a send.
package credentials

import (
	"context"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/models"
)

// EmailCredential carries everything the SendGrid adapter needs for one send.
type EmailCredential struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// WhatsAppCredential carries everything the WhatsApp adapter needs for one send.
type WhatsAppCredential struct {
	SessionName   string
	SessionAPIKey string
}

// SiteLoader loads a Site by id. Satisfied by *repository.SiteRepository.
type SiteLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Site, error)
}

// GlobalConfigLoader loads the fallback provider config for a channel.
// Satisfied by *repository.GlobalProviderConfigRepository.
type GlobalConfigLoader interface {
	Find(ctx context.Context, channel models.Channel) (*models.GlobalProviderConfig, error)
}

// SessionLoader loads a ChannelSession by owning site and session name.
// Satisfied by *repository.ChannelSessionRepository.
type SessionLoader interface {
	FindBySiteAndName(ctx context.Context, siteID uuid.UUID, sessionName string) (*models.ChannelSession, error)
}

// EnvDefaults supplies the final fallback tier when neither a site nor the
// global config has a value configured.
type EnvDefaults struct {
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
}

// ResolveEmail implements the EMAIL resolution order: site key, then the
// active global config, then the environment fallback. The first
// non-empty API key wins.
func ResolveEmail(ctx context.Context, siteLoader SiteLoader, globalLoader GlobalConfigLoader, siteID *uuid.UUID, env EnvDefaults) (EmailCredential, error) {
	var site *models.Site
	if siteID != nil {
		s, err := siteLoader.FindByID(ctx, *siteID)
		if err != nil && err != models.ErrNotFound {
			return EmailCredential{}, err
		}
		site = s
	}

	if site != nil && site.SendGridAPIKey != "" {
		return EmailCredential{
			APIKey:    site.SendGridAPIKey,
			FromEmail: resolveSenderEmail(site, nil, env),
			FromName:  resolveSenderName(site, nil, env),
		}, nil
	}

	global, err := globalLoader.Find(ctx, models.ChannelEmail)
	if err != nil && err != models.ErrNotFound {
		return EmailCredential{}, err
	}
	if global != nil && global.SendGridAPIKey != "" {
		return EmailCredential{
			APIKey:    global.SendGridAPIKey,
			FromEmail: resolveSenderEmail(site, global, env),
			FromName:  resolveSenderName(site, global, env),
		}, nil
	}

	if env.SendGridAPIKey != "" {
		return EmailCredential{
			APIKey:    env.SendGridAPIKey,
			FromEmail: resolveSenderEmail(site, global, env),
			FromName:  resolveSenderName(site, global, env),
		}, nil
	}

	return EmailCredential{}, models.ErrConfig
}

// ResolveSenderIdentity resolves fromEmail/fromName using the payload value
// first, then the site, then the global config, then the environment
// default. Exposed separately so the worker can apply payload-level
// overrides before falling back to ResolveEmail's identity.
func ResolveSenderIdentity(payloadFromEmail, payloadFromName string, site *models.Site, global *models.GlobalProviderConfig, env EnvDefaults) (fromEmail, fromName string) {
	fromEmail = payloadFromEmail
	if fromEmail == "" {
		fromEmail = resolveSenderEmail(site, global, env)
	}
	fromName = payloadFromName
	if fromName == "" {
		fromName = resolveSenderName(site, global, env)
	}
	return fromEmail, fromName
}

func resolveSenderEmail(site *models.Site, global *models.GlobalProviderConfig, env EnvDefaults) string {
	if site != nil && site.EmailFromAddress != "" {
		return site.EmailFromAddress
	}
	if global != nil && global.EmailFromAddress != "" {
		return global.EmailFromAddress
	}
	return env.EmailFromAddress
}

func resolveSenderName(site *models.Site, global *models.GlobalProviderConfig, env EnvDefaults) string {
	if site != nil && site.EmailFromName != "" {
		return site.EmailFromName
	}
	if global != nil && global.EmailFromName != "" {
		return global.EmailFromName
	}
	return env.EmailFromName
}

// ResolveWhatsApp implements the WHATSAPP resolution: the site must exist
// and own a channel session agreeing with the payload-provided session
// name (if any), whose active session api key is then returned.
func ResolveWhatsApp(ctx context.Context, siteLoader SiteLoader, sessionLoader SessionLoader, siteID uuid.UUID, payloadSessionName string) (WhatsAppCredential, error) {
	site, err := siteLoader.FindByID(ctx, siteID)
	if err != nil {
		if err == models.ErrNotFound {
			return WhatsAppCredential{}, models.ErrConfig
		}
		return WhatsAppCredential{}, err
	}

	sessionName := payloadSessionName
	if sessionName == "" {
		sessionName = site.WhatsAppSessionName
	} else if site.WhatsAppSessionName != "" && sessionName != site.WhatsAppSessionName {
		return WhatsAppCredential{}, models.ErrTenantMismatch
	}
	if sessionName == "" {
		return WhatsAppCredential{}, models.ErrConfig
	}

	session, err := sessionLoader.FindBySiteAndName(ctx, siteID, sessionName)
	if err != nil {
		return WhatsAppCredential{}, models.ErrConfig
	}
	if session.SessionAPIKey == "" {
		return WhatsAppCredential{}, models.ErrConfig
	}

	return WhatsAppCredential{SessionName: sessionName, SessionAPIKey: session.SessionAPIKey}, nil
}
