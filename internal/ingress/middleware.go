package ingress

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notifyhub/dispatch/internal/models"
)

const siteContextKey = "ingress.site"

// SiteLoader authenticates a presented API key to its owning Site.
// Satisfied by *repository.SiteRepository.
type SiteLoader interface {
	FindByAPIKey(ctx context.Context, presentedKey string) (*models.Site, error)
}

// SiteAuthMiddleware authenticates every request by its X-API-Key header
// against SiteLoader, which performs the constant-time comparison
// internally, and stashes the resolved Site in the gin context.
func SiteAuthMiddleware(loader SiteLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		site, err := loader.FindByAPIKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		c.Set(siteContextKey, site)
		c.Next()
	}
}

func siteFromContext(c *gin.Context) *models.Site {
	v, ok := c.Get(siteContextKey)
	if !ok {
		return nil
	}
	site, _ := v.(*models.Site)
	return site
}
