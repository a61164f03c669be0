// Package bus wraps NATS JetStream as the dispatch pipeline's message bus:
// one durable stream per channel, an explicit-ack consumer for at-least-once
// delivery, and a dead-letter subject per channel for exhausted retries.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/models"
	"github.com/notifyhub/dispatch/internal/sanitize"
)

// OutboundPayload is what the Ingress Service, Retry Controller, and
// Scheduler publish to a worker. Its field list intentionally excludes
// anything that could hold a credential: workers resolve credentials
// themselves from the Credential Resolver, never from the bus.
type OutboundPayload struct {
	MessageID           string            `json:"messageId"`
	SiteID              string            `json:"siteId,omitempty"`
	Channel             models.Channel    `json:"channel"`
	Recipient           string            `json:"recipient"`
	Subject             string            `json:"subject,omitempty"`
	Body                string            `json:"body,omitempty"`
	IsHTML              bool              `json:"isHtml,omitempty"`
	ImageURL            string            `json:"imageUrl,omitempty"`
	VideoURL            string            `json:"videoUrl,omitempty"`
	DocumentURL         string            `json:"documentUrl,omitempty"`
	FileName            string            `json:"fileName,omitempty"`
	Caption             string            `json:"caption,omitempty"`
	FromEmail           string            `json:"fromEmail,omitempty"`
	FromName            string            `json:"fromName,omitempty"`
	WhatsAppSessionName string            `json:"whatsappSessionName,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	RetryCount          int               `json:"retryCount"`
}

// InboundPayload is what a Channel Worker receives when it consumes a
// message. It is a type alias of OutboundPayload, so both sides share one
// definition.
type InboundPayload = OutboundPayload

// Publisher publishes outbound and dead-lettered payloads.
type Publisher interface {
	Publish(ctx context.Context, channel models.Channel, payload OutboundPayload) error
	PublishDLQ(ctx context.Context, channel models.Channel, payload OutboundPayload) error
}

// Consumer consumes inbound payloads for a channel, acking only after handle
// returns nil.
type Consumer interface {
	Consume(ctx context.Context, channel models.Channel, handle func(context.Context, InboundPayload) error) error
}

// Bus implements Publisher and Consumer over a NATS JetStream connection.
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger
	topics map[string]string
	dlq    map[string]string
}

// New connects to the configured NATS server and ensures the per-channel
// streams exist.
func New(cfg *config.Config, logger zerolog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("dispatch"),
		nats.Timeout(cfg.Bus.ConnectTimeout),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(sanitize.Error(err)).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(sanitize.Error(err)).Msg("nats error")
		}),
	}

	nc, err := nats.Connect(cfg.Bus.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.Bus.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initializing jetstream: %w", err)
	}

	b := &Bus{conn: nc, js: js, logger: logger, topics: cfg.Bus.Topics, dlq: cfg.Bus.DLQTopics}
	if err := b.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) ensureStreams() error {
	for channel, subject := range b.topics {
		if err := b.ensureStream(streamName(channel), []string{subject}); err != nil {
			return err
		}
	}
	for channel, subject := range b.dlq {
		if err := b.ensureStream(streamName(channel)+"_DLQ", []string{subject}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) ensureStream(name string, subjects []string) error {
	_, err := b.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("checking stream %s: %w", name, err)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", name, err)
	}
	b.logger.Info().Str("stream", name).Msg("jetstream stream created")
	return nil
}

func streamName(channel string) string {
	return "DISPATCH_" + channel
}

// Publish publishes an OutboundPayload to the stream configured for channel.
func (b *Bus) Publish(ctx context.Context, channel models.Channel, payload OutboundPayload) error {
	return b.publishTo(ctx, b.topics[string(channel)], payload)
}

// PublishDLQ publishes to the dead-letter subject for channel, used when a
// message has exhausted its retry budget.
func (b *Bus) PublishDLQ(ctx context.Context, channel models.Channel, payload OutboundPayload) error {
	return b.publishTo(ctx, b.dlq[string(channel)], payload)
}

func (b *Bus) publishTo(ctx context.Context, subject string, payload OutboundPayload) error {
	if subject == "" {
		return fmt.Errorf("no subject configured for payload channel %s", payload.Channel)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", subject, err)
	}

	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	b.logger.Debug().Str("subject", subject).Str("messageId", payload.MessageID).Msg("payload published")
	return nil
}

// Consume starts a durable pull consumer for channel and invokes handle for
// each delivered payload, acking only when handle returns nil — giving
// at-least-once delivery with explicit acknowledgment, matching the
// "acknowledge only after the status update completes" requirement.
func (b *Bus) Consume(ctx context.Context, channel models.Channel, handle func(context.Context, InboundPayload) error) error {
	subject := b.topics[string(channel)]
	if subject == "" {
		return fmt.Errorf("no subject configured for channel %s", channel)
	}

	sub, err := b.js.PullSubscribe(subject, "dispatch-worker-"+string(channel), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			b.logger.Warn().Err(sanitize.Error(err)).Msg("fetch from jetstream failed")
			continue
		}

		for _, msg := range msgs {
			var payload InboundPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				b.logger.Error().Err(sanitize.Error(err)).Msg("failed to unmarshal inbound payload")
				_ = msg.Ack()
				continue
			}

			if err := handle(ctx, payload); err != nil {
				b.logger.Warn().Err(sanitize.Error(err)).Str("messageId", payload.MessageID).Msg("handler failed, message will be redelivered")
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// Close drains the underlying NATS connection.
func (b *Bus) Close() {
	b.conn.Close()
}
