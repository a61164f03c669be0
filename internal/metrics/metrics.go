// Package metrics centralizes the prometheus collectors shared across the
// Ingress Service, Channel Worker, Retry Controller, and Scheduler into one
// registry so every component reports under the same metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_accepted_total",
		Help:      "Messages accepted by the ingress service, by channel.",
	}, []string{"channel"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_sent_total",
		Help:      "Messages successfully handed to a provider, by channel.",
	}, []string{"channel"})

	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_delivered_total",
		Help:      "Messages confirmed delivered, by channel.",
	}, []string{"channel"})

	MessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_failed_total",
		Help:      "Messages that failed a send attempt, by channel and failure category.",
	}, []string{"channel", "category"})

	MessagesRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_retried_total",
		Help:      "Messages re-published by the retry controller, by channel.",
	}, []string{"channel"})

	MessagesDLQ = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_dlq_total",
		Help:      "Messages dead-lettered after exhausting their retry budget, by channel.",
	}, []string{"channel"})

	MessagesScheduledPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "messages_scheduled_promoted_total",
		Help:      "Scheduled messages promoted to pending, by channel.",
	}, []string{"channel"})

	ProviderSendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "provider_send_duration_seconds",
		Help:      "Latency of a single provider send call, by channel.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"channel"})
)
