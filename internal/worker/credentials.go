package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers"
)

type parsedSiteID = uuid.UUID

func parseSiteID(s string) (*parsedSiteID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// sameSite reports whether two possibly-nil site ids refer to the same
// tenant (or both to none, e.g. an unauthenticated EMAIL send falling back
// to global config).
func sameSite(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// resolveCredential dispatches to the Credential Resolver function for this
// worker's channel, verifying the WhatsApp session-name agreement rule
// before credentials are ever resolved.
func (w *Worker) resolveCredential(ctx context.Context, payload bus.InboundPayload, siteID *parsedSiteID) (providers.Credential, error) {
	switch w.channel {
	case models.ChannelEmail:
		return credentials.ResolveEmail(ctx, w.siteLoader, w.globalCfg, siteID, w.envDefaults)
	case models.ChannelWhatsApp:
		return credentials.ResolveWhatsApp(ctx, w.siteLoader, w.sessionRepo, *siteID, payload.WhatsAppSessionName)
	default:
		return nil, models.ErrConfig
	}
}
