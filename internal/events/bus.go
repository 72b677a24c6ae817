package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
)

const source = "exstem-session-engine"

// NewPublisher returns a Kafka publisher when brokers are configured and an
// in-process channel otherwise.
func NewPublisher(cfg *config.Config, log zerolog.Logger) (message.Publisher, error) {
	logger := NewLoggerAdapter(log)
	if len(cfg.KafkaBrokers) == 0 {
		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger), nil
	}

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		// one session's events share a partition and stay ordered
		Marshaler: kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
			return msg.Metadata.Get("session_id"), nil
		}),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return pub, nil
}

// Bus publishes attempt events to the message bus and mirrors them onto the
// session's Redis monitor channel for live dashboards.
type Bus struct {
	pub    message.Publisher
	rdb    *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewBus creates a Bus. rdb may be nil to skip the monitor mirror.
func NewBus(pub message.Publisher, rdb *redis.Client, prefix string, log zerolog.Logger) *Bus {
	return &Bus{
		pub:    pub,
		rdb:    rdb,
		prefix: prefix,
		log:    log.With().Str("component", "event_bus").Logger(),
	}
}

// Topic returns the bus topic for an event type.
func (b *Bus) Topic(eventType string) string {
	if b.prefix == "" {
		return eventType
	}
	return b.prefix + "." + eventType
}

// Publish wraps data in an Event and sends it. A monitor mirror failure is
// logged and does not fail the publish.
func (b *Bus) Publish(ctx context.Context, sessionID, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	evt := Event{
		ID:        watermill.NewUUID(),
		Type:      eventType,
		Source:    source,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set("type", eventType)
	msg.Metadata.Set("session_id", sessionID)
	msg.SetContext(ctx)

	if err := b.pub.Publish(b.Topic(eventType), msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	if b.rdb != nil && sessionID != "" {
		channel := config.CacheKey.SessionMonitorChannel(sessionID)
		if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			b.log.Warn().Err(err).Str("session_id", sessionID).Str("type", eventType).Msg("Monitor publish failed")
		}
	}
	return nil
}

// Close releases the underlying publisher.
func (b *Bus) Close() error {
	return b.pub.Close()
}
