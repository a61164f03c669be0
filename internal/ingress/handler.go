package ingress

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/sanitize"
)

const acceptTimeout = 5 * time.Second

// MessageInserter is the subset of *repository.MessageRepository the
// handler needs.
type MessageInserter interface {
	InsertPending(ctx context.Context, tx *sql.Tx, msg *models.Message) error
}

// Handler implements POST /send: site-key auth (via router middleware),
// channel-aware validation, a transactional insert, and an after-commit
// bus publish, wrapped in a rate-limit + circuit-breaker pattern.
type Handler struct {
	db             *sql.DB
	messages       MessageInserter
	publisher      bus.Publisher
	rateLimiter    *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
}

// NewHandler constructs a Handler. db is used only to open the transaction
// WithTransaction commits messages within.
func NewHandler(db *sql.DB, messages MessageInserter, publisher bus.Publisher) *Handler {
	return &Handler{
		db:          db,
		messages:    messages,
		publisher:   publisher,
		rateLimiter: rate.NewLimiter(rate.Limit(1000), 50),
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ingress-send",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 10
			},
		}),
	}
}

// RegisterRoutes mounts the ingress HTTP surface onto r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/send", h.handleSend)
}

func (h *Handler) handleSend(c *gin.Context) {
	if err := h.rateLimiter.Wait(c.Request.Context()); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}
	if err := validateSendRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	site := siteFromContext(c)
	if req.Channel == models.ChannelWhatsApp && site == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "whatsapp requires an authenticated site"})
		return
	}

	msg := buildMessage(&req, site)

	ctx, cancel := context.WithTimeout(c.Request.Context(), acceptTimeout)
	defer cancel()

	_, err := h.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, repository.WithTransaction(ctx, h.db, func(tx *sql.Tx) (func(), error) {
			if err := h.messages.InsertPending(ctx, tx, msg); err != nil {
				return nil, err
			}

			if msg.Status != models.StatusPending {
				// Scheduled messages are published by the Scheduler once due,
				// not at acceptance time.
				return func() {}, nil
			}

			payload := toOutboundPayload(msg)
			return func() {
				publishCtx, publishCancel := context.WithTimeout(context.Background(), acceptTimeout)
				defer publishCancel()
				if err := h.publisher.Publish(publishCtx, msg.Channel, payload); err != nil {
					// The row is durably committed; a publish failure here is
					// recovered by the Retry Controller's boundary rescue rule
					// rather than surfaced to the caller.
					_ = sanitize.Error(err)
				}
			}, nil
		})
	})

	if err != nil {
		status := http.StatusInternalServerError
		if err == gobreaker.ErrOpenState {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "failed to accept message"})
		return
	}

	metrics.MessagesAccepted.WithLabelValues(string(msg.Channel)).Inc()
	c.JSON(http.StatusAccepted, gin.H{"messageId": msg.ID})
}
