// Package channel provides an in-memory source for tests and local
// development. Topics are whatever has been declared or published, every
// topic keeps an append-only log, and every subscription replays that log
// from the start, one record at a time.
package channel

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/transitboard/transport"
)

// TransportName is the name used to register this source.
const TransportName = "channel"

// ErrClosed is returned by a source that has been closed.
var ErrClosed = errors.New("channel: source is closed")

func init() {
	Register()
}

// Register registers the channel source with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new in-memory source with the configured topics declared.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Source, error) {
	return New(logger, cfg.GetChannelTopics()...), nil
}

// Capabilities returns the capabilities of this source.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Source is the in-memory implementation of transport.Source.
type Source struct {
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	logs    map[string][]*message.Message
	changed chan struct{}
	done    chan struct{}
	closed  bool
}

// New creates a source with the given topics declared up front.
func New(logger watermill.LoggerAdapter, topics ...string) *Source {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	s := &Source{
		logger:  logger,
		logs:    make(map[string][]*message.Message, len(topics)),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, topic := range topics {
		if topic != "" {
			s.logs[topic] = nil
		}
	}
	return s
}

// CreateTopic declares a topic without publishing to it.
func (s *Source) CreateTopic(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[name]; !ok {
		s.logs[name] = nil
	}
}

// Publish declares topic and appends messages to its log in the given order.
func (s *Source) Publish(topic string, messages ...*message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.logs[topic] = append(s.logs[topic], messages...)
	s.notifyLocked()
	return nil
}

func (s *Source) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// next returns the record at offset, or a channel closed on the next
// publish when the log is not that long yet.
func (s *Source) next(topic string, offset int) (*message.Message, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	if log := s.logs[topic]; offset < len(log) {
		return log[offset], nil, nil
	}
	return nil, s.changed, nil
}

// TopicExists reports whether the topic has been declared or published to.
func (s *Source) TopicExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.logs[name]
	return ok, nil
}

// Topics returns the declared topics, sorted.
func (s *Source) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(s.logs))
	for name := range s.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Subscriber returns a reader over the shared logs. The offset policy and
// consumer group are ignored: every subscription replays from the start.
func (s *Source) Subscriber(spec transport.SubscriberSpec, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if logger == nil {
		logger = s.logger
	}
	return &subscriber{
		source: s,
		logger: logger.With(watermill.LogFields{"binding": spec.Binding}),
	}, nil
}

// Close ends every subscription. Later calls are no-ops.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.notifyLocked()
	return nil
}

// subscriber ends its own subscriptions on Close and leaves the source open
// for the other bindings.
type subscriber struct {
	source *Source
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
}

func (s *subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancels = append(s.cancels, cancel)

	out := make(chan *message.Message)
	go s.deliver(ctx, topic, out)
	return out, nil
}

// deliver sends the topic log in order and holds each record until it is
// acked. A nacked record is sent again.
func (s *subscriber) deliver(ctx context.Context, topic string, out chan<- *message.Message) {
	defer close(out)
	logFields := watermill.LogFields{"topic": topic}

	for offset := 0; ; {
		stored, wait, err := s.source.next(topic, offset)
		if err != nil {
			return
		}
		if stored == nil {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return
			}
		}

		msg := stored.Copy()
		msg.SetContext(ctx)
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		case <-s.source.done:
			return
		}

		select {
		case <-msg.Acked():
			offset++
		case <-msg.Nacked():
			s.logger.Debug("Record nacked, sending again", logFields.Add(watermill.LogFields{"offset": offset}))
		case <-ctx.Done():
			return
		case <-s.source.done:
			return
		}
	}
}

func (s *subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}
