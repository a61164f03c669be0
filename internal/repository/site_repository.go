package repository

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/notifyhub/dispatch/internal/models"
)

func parseSiteID(s string) (*uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse site id")
	}
	return &id, nil
}

// LookupKey computes the indexed digest used to find a Site row by API key
// in O(1) instead of scanning every row for a constant-time comparison
// (resolves the site-key-validation-at-scale design question).
func LookupKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

const findSiteByLookupKeySQL = `
	SELECT id, site_name, api_key_hash, api_key_lookup, sendgrid_api_key,
	       email_from_address, email_from_name, whatsapp_session_name,
	       active, deleted
	FROM sites
	WHERE api_key_lookup = $1 AND deleted = false`

const findSiteByIDSQL = `
	SELECT id, site_name, api_key_hash, api_key_lookup, sendgrid_api_key,
	       email_from_address, email_from_name, whatsapp_session_name,
	       active, deleted
	FROM sites
	WHERE id = $1 AND deleted = false AND active = true`

// SiteRepository provides read access to the tenant table. Site creation and
// API-key hashing are owned by a registration surface outside this core.
type SiteRepository struct {
	db *sql.DB
}

// NewSiteRepository returns a repository bound to db.
func NewSiteRepository(db *sql.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

func scanSite(scan func(dest ...interface{}) error) (*models.Site, error) {
	var s models.Site
	if err := scan(
		&s.ID, &s.SiteName, &s.APIKeyHash, &s.APIKeyLookup, &s.SendGridAPIKey,
		&s.EmailFromAddress, &s.EmailFromName, &s.WhatsAppSessionName,
		&s.Active, &s.Deleted,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByAPIKey finds an active site by presented API key using the indexed
// lookup-key column, then confirms the match with a constant-time compare
// of the full hash so a lookup-key collision can never authenticate.
func (r *SiteRepository) FindByAPIKey(ctx context.Context, presentedKey string) (*models.Site, error) {
	row := r.db.QueryRowContext(ctx, findSiteByLookupKeySQL, LookupKey(presentedKey))
	site, err := scanSite(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load site by api key")
	}

	presentedHash := sha256.Sum256([]byte(presentedKey))
	storedHash, err := hex.DecodeString(site.APIKeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "stored api key hash is not valid hex")
	}
	if subtle.ConstantTimeCompare(presentedHash[:], storedHash) != 1 {
		return nil, models.ErrUnauthorized
	}
	if !site.Active {
		return nil, models.ErrUnauthorized
	}
	return site, nil
}

// FindByID loads an active, non-deleted site by id.
func (r *SiteRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	row := r.db.QueryRowContext(ctx, findSiteByIDSQL, id)
	site, err := scanSite(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load site by id")
	}
	return site, nil
}

const findChannelSessionSQL = `
	SELECT site_user_id, session_name, session_api_key, active, deleted
	FROM channel_sessions
	WHERE site_user_id = $1 AND session_name = $2 AND deleted = false`

// ChannelSessionRepository provides read access to provider-side channel
// bindings (e.g. a WhatsApp session) owned by a site.
type ChannelSessionRepository struct {
	db *sql.DB
}

// NewChannelSessionRepository returns a repository bound to db.
func NewChannelSessionRepository(db *sql.DB) *ChannelSessionRepository {
	return &ChannelSessionRepository{db: db}
}

// FindBySiteAndName loads an active channel session by owning site and
// session name.
func (r *ChannelSessionRepository) FindBySiteAndName(ctx context.Context, siteID uuid.UUID, sessionName string) (*models.ChannelSession, error) {
	row := r.db.QueryRowContext(ctx, findChannelSessionSQL, siteID, sessionName)

	var cs models.ChannelSession
	err := row.Scan(&cs.SiteUserID, &cs.SessionName, &cs.SessionAPIKey, &cs.Active, &cs.Deleted)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load channel session")
	}
	if !cs.Active {
		return nil, models.ErrConfig
	}
	return &cs, nil
}

const findGlobalProviderConfigSQL = `
	SELECT channel, sendgrid_api_key, email_from_address, email_from_name, active
	FROM global_provider_config
	WHERE channel = $1 AND active = true`

// GlobalProviderConfigRepository provides read access to the tenant-less
// fallback credentials used only when a site has none configured.
type GlobalProviderConfigRepository struct {
	db *sql.DB
}

// NewGlobalProviderConfigRepository returns a repository bound to db.
func NewGlobalProviderConfigRepository(db *sql.DB) *GlobalProviderConfigRepository {
	return &GlobalProviderConfigRepository{db: db}
}

// Find loads the active global fallback config for a channel, if any.
func (r *GlobalProviderConfigRepository) Find(ctx context.Context, channel models.Channel) (*models.GlobalProviderConfig, error) {
	row := r.db.QueryRowContext(ctx, findGlobalProviderConfigSQL, channel)

	var cfg models.GlobalProviderConfig
	err := row.Scan(&cfg.Channel, &cfg.SendGridAPIKey, &cfg.EmailFromAddress, &cfg.EmailFromName, &cfg.Active)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load global provider config")
	}
	return &cfg, nil
}
