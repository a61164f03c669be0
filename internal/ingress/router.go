package ingress

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the ingress HTTP surface: an unauthenticated health
// check and metrics endpoint, and the site-key-authenticated /send route.
func NewRouter(siteLoader SiteLoader, handler *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/")
	authed.Use(SiteAuthMiddleware(siteLoader))
	handler.RegisterRoutes(authed)

	return r
}
