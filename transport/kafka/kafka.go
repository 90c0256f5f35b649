// Package kafka provides the Kafka source: topic metadata through a sarama
// cluster admin and one watermill-kafka subscriber per binding.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/transitboard/internal/runtime/stream"
	"github.com/drblury/transitboard/transport"
)

// TransportName is the name used to register this source.
const TransportName = "kafka"

// AdminFactory allows overriding the cluster admin creation for testing.
var AdminFactory = func(brokers []string, cfg *sarama.Config) (sarama.ClusterAdmin, error) {
	return sarama.NewClusterAdmin(brokers, cfg)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka source with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka source. No connection is made until the first
// metadata request so that broker outages surface through the readiness gate.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Source, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	return &Source{brokers: brokers, clientID: cfg.GetKafkaClientID(), logger: logger}, nil
}

// Capabilities returns the capabilities of this source.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// Source is the Kafka implementation of transport.Source.
type Source struct {
	brokers  []string
	clientID string
	logger   watermill.LoggerAdapter

	mu     sync.Mutex
	admin  sarama.ClusterAdmin
	closed bool
}

func (s *Source) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	if s.clientID != "" {
		cfg.ClientID = s.clientID
	}
	return cfg
}

func (s *Source) clusterAdmin() (sarama.ClusterAdmin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("kafka: source is closed")
	}
	if s.admin != nil {
		return s.admin, nil
	}
	admin, err := AdminFactory(s.brokers, s.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka: connect cluster admin: %w", err)
	}
	s.admin = admin
	return admin, nil
}

func (s *Source) listTopics(ctx context.Context) (map[string]sarama.TopicDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	admin, err := s.clusterAdmin()
	if err != nil {
		return nil, err
	}
	topics, err := admin.ListTopics()
	if err != nil {
		return nil, fmt.Errorf("kafka: list topics: %w", err)
	}
	return topics, nil
}

// TopicExists reports whether name is present in the cluster metadata.
func (s *Source) TopicExists(ctx context.Context, name string) (bool, error) {
	topics, err := s.listTopics(ctx)
	if err != nil {
		return false, err
	}
	_, ok := topics[name]
	return ok, nil
}

// Topics lists the cluster's topics, sorted.
func (s *Source) Topics(ctx context.Context) ([]string, error) {
	topics, err := s.listTopics(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Subscriber builds a dedicated subscriber for one binding. Without a
// consumer group partitions are read directly, so the earliest policy
// replays the retained log on every start.
func (s *Source) Subscriber(spec transport.SubscriberSpec, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if logger == nil {
		logger = s.logger
	}
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	if s.clientID != "" {
		saramaCfg.ClientID = s.clientID
	}
	saramaCfg.Consumer.Offsets.Initial = initialOffset(spec.Offset)

	return SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               s.brokers,
			Unmarshaler:           RecordUnmarshaler{},
			OverwriteSaramaConfig: saramaCfg,
			ConsumerGroup:         spec.ConsumerGroup,
		},
		logger,
	)
}

// Close releases the cluster admin. Later calls are no-ops.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.admin == nil {
		return nil
	}
	return s.admin.Close()
}

func initialOffset(policy stream.OffsetPolicy) int64 {
	if policy == stream.OffsetLatest {
		return sarama.OffsetNewest
	}
	return sarama.OffsetOldest
}
