package whatsapp

import (
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
    "github.com/sony/gobreaker"
)

// RateLimitConfig configures the client's outbound rate limiter.
type RateLimitConfig struct {
    Limit int
}

// CircuitBreakerConfig configures the client's circuit breaker.
type CircuitBreakerConfig struct {
    MaxFailures uint32
    OpenTimeout time.Duration
}

// MetricsConfig configures the client's prometheus collectors.
type MetricsConfig struct {
    Namespace string
}

// MetricsCollector records outbound call outcomes and webhook deliveries as
// prometheus counters.
type MetricsCollector struct {
    success  *prometheus.CounterVec
    errors   *prometheus.CounterVec
    webhooks *prometheus.CounterVec
}

func newMetricsCollector(cfg *MetricsConfig) *MetricsCollector {
    namespace := "whatsapp_client"
    if cfg != nil && cfg.Namespace != "" {
        namespace = cfg.Namespace
    }

    return &MetricsCollector{
        success: promauto.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "operations_success_total",
        }, []string{"operation"}),
        errors: promauto.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "operations_error_total",
        }, []string{"operation"}),
        webhooks: promauto.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "webhooks_total",
        }, []string{"type"}),
    }
}

// RecordSuccess increments the success counter for operation.
func (m *MetricsCollector) RecordSuccess(operation string) {
    m.success.WithLabelValues(operation).Inc()
}

// RecordError increments the error counter for operation. err is accepted
// to keep the call site symmetric with RecordSuccess; its value is not
// included as a label to avoid unbounded label cardinality.
func (m *MetricsCollector) RecordError(operation string, err error) {
    m.errors.WithLabelValues(operation).Inc()
}

// RecordWebhook increments the webhook counter for the given event type.
func (m *MetricsCollector) RecordWebhook(eventType string) {
    m.webhooks.WithLabelValues(eventType).Inc()
}

// CircuitBreaker guards outbound calls, wrapping gobreaker with the Allow()
// shape the client calls before every send.
type CircuitBreaker struct {
    breaker *gobreaker.CircuitBreaker
}

func newCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
    maxFailures := uint32(5)
    openTimeout := 30 * time.Second
    if cfg != nil {
        if cfg.MaxFailures > 0 {
            maxFailures = cfg.MaxFailures
        }
        if cfg.OpenTimeout > 0 {
            openTimeout = cfg.OpenTimeout
        }
    }

    return &CircuitBreaker{
        breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
            Name:    "whatsapp-client",
            Timeout: openTimeout,
            ReadyToTrip: func(counts gobreaker.Counts) bool {
                return counts.ConsecutiveFailures >= maxFailures
            },
        }),
    }
}

// Allow reports whether the breaker currently permits a call, without
// itself executing one — the client records the outcome separately via
// metrics, so this only needs the breaker's state check.
func (c *CircuitBreaker) Allow() error {
    if c.breaker.State() == gobreaker.StateOpen {
        return ErrCircuitOpen
    }
    return nil
}
