// Package email implements the SendGrid provider adapter. No pack repo ships
// a SendGrid client, so this follows the same http.Client-with-pooled-
// transport, context-bound-request shape used by the WhatsApp Business API
// adapter in this codebase.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/providers"
	"github.com/notifyhub/dispatch/internal/sanitize"
)

// Client is the SendGrid v3 mail/send adapter.
type Client struct {
	endpoint       string
	httpClient     *http.Client
	limiter        *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
}

// NewClient constructs a Client posting to endpoint with the given per-call
// timeout. The rate limiter and circuit breaker guard outbound calls the
// same way the WhatsApp adapter guards its own HTTP traffic.
func NewClient(endpoint string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(100), 100),
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sendgrid",
			Timeout: 30 * time.Second,
		}),
	}
}

// Name identifies this adapter.
func (c *Client) Name() providers.ProviderName { return providers.ProviderSendGrid }

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Send posts a single email send to the SendGrid API and maps the response
// into the shared Result contract.
func (c *Client) Send(ctx context.Context, payload bus.OutboundPayload, cred providers.Credential) (providers.Result, error) {
	email, ok := cred.(credentials.EmailCredential)
	if !ok {
		return providers.Failure(models.CategoryConfig, "credential is not an email credential"), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return providers.Failure(models.CategoryTemporary, "rate limiter: "+sanitize.String(err.Error())), nil
	}

	contentType := "text/plain"
	if payload.IsHTML {
		contentType = "text/html"
	}

	body := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: payload.Recipient}}}},
		From:             sendGridAddress{Email: email.FromEmail},
		Subject:          payload.Subject,
		Content:          []sendGridContent{{Type: contentType, Value: payload.Body}},
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doSend(ctx, body, email.APIKey)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return providers.Failure(models.CategoryTemporary, "circuit breaker open"), nil
		}
		return providers.Failure(models.CategoryTemporary, sanitize.String(err.Error())), nil
	}

	return result.(providers.Result), nil
}

func (c *Client) doSend(ctx context.Context, body sendGridRequest, apiKey string) (providers.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return providers.Result{}, fmt.Errorf("marshal sendgrid request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return providers.Result{}, fmt.Errorf("create sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Failure(models.CategoryTemporary, sanitize.String(err.Error())), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return providers.Success(), nil
	}

	// The raw response body is discarded rather than surfaced: provider
	// error bodies may themselves echo request headers or keys.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	category := providers.CategorizeHTTPStatus(resp.StatusCode)
	return providers.Failure(category, fmt.Sprintf("sendgrid returned status %d", resp.StatusCode)), nil
}
