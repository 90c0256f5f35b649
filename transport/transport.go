// Package transport defines the stream sources transitboard can consume from.
// Each source (kafka, channel) lives in its own sub-package and registers
// itself with the transport registry under the name used by
// Config.PubSubSystem.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/transitboard/internal/runtime/stream"
)

// Source is a broker connection that can answer topic metadata questions and
// hand out one subscriber per binding.
type Source interface {
	// TopicExists backs the readiness gate.
	TopicExists(ctx context.Context, name string) (bool, error)
	// Topics lists every topic visible to the source, used to resolve
	// pattern bindings.
	Topics(ctx context.Context) ([]string, error)
	// Subscriber builds a subscriber honouring the binding's delivery
	// options. The binding owns it and closes it at shutdown.
	Subscriber(spec SubscriberSpec, logger watermill.LoggerAdapter) (message.Subscriber, error)
	// Close releases the metadata connection. Safe to call more than once.
	Close() error
}

// SubscriberSpec carries the per-binding options a subscriber needs.
type SubscriberSpec struct {
	Binding       string
	Offset        stream.OffsetPolicy
	ConsumerGroup string
}

// Builder is the function signature for creating a source from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Source, error)

// Config provides the configuration values sources need without depending on
// the full config package.
type Config interface {
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// Channel
	GetChannelTopics() []string
}
