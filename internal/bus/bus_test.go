package bus

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/dispatch/internal/models"
)

func TestStreamName_PrefixesChannel(t *testing.T) {
	require.Equal(t, "DISPATCH_EMAIL", streamName("EMAIL"))
}

func TestPublish_NoSubjectConfiguredReturnsError(t *testing.T) {
	b := &Bus{
		logger: zerolog.Nop(),
		topics: map[string]string{},
		dlq:    map[string]string{},
	}

	err := b.Publish(context.Background(), models.ChannelEmail, OutboundPayload{MessageID: "m1", Channel: models.ChannelEmail})
	require.Error(t, err)
}

func TestPublishDLQ_NoSubjectConfiguredReturnsError(t *testing.T) {
	b := &Bus{
		logger: zerolog.Nop(),
		topics: map[string]string{},
		dlq:    map[string]string{},
	}

	err := b.PublishDLQ(context.Background(), models.ChannelWhatsApp, OutboundPayload{MessageID: "m1", Channel: models.ChannelWhatsApp})
	require.Error(t, err)
}

func TestConsume_NoSubjectConfiguredReturnsError(t *testing.T) {
	b := &Bus{
		logger: zerolog.Nop(),
		topics: map[string]string{},
	}

	err := b.Consume(context.Background(), models.ChannelEmail, func(context.Context, InboundPayload) error { return nil })
	require.Error(t, err)
}
