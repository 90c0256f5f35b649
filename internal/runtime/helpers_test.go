package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/transitboard/internal/runtime/config"
	decodepkg "github.com/drblury/transitboard/internal/runtime/decode"
	"github.com/drblury/transitboard/internal/runtime/logging/logtest"
	"github.com/drblury/transitboard/transport"
	"github.com/drblury/transitboard/transport/channel"
)

const (
	weatherTopic   = "org.chicago.cta.weather.v1"
	stationsTopic  = "org.chicago.cta.stations.table.v1"
	summaryTopic   = "TURNSTILE_SUMMARY"
	arrivalsPrefix = "org.chicago.cta.station.arrivals."
)

func testConfig() *configpkg.Config {
	cfg := configpkg.Default()
	cfg.PubSubSystem = channel.TransportName
	cfg.KafkaBrokers = nil
	cfg.HTTPAddress = "127.0.0.1:0"
	cfg.MetricsPort = 0
	cfg.ShutdownTimeout = configpkg.Duration(5 * time.Second)
	return cfg
}

// countingSource wraps the in-memory source and records how the service
// used it.
type countingSource struct {
	*channel.Source

	topicErr error
	closeErr error

	subscribers atomic.Int32
	closes      atomic.Int32
}

func newCountingSource(topics ...string) *countingSource {
	return &countingSource{Source: channel.New(watermill.NopLogger{}, topics...)}
}

func (c *countingSource) TopicExists(ctx context.Context, name string) (bool, error) {
	if c.topicErr != nil {
		return false, c.topicErr
	}
	return c.Source.TopicExists(ctx, name)
}

func (c *countingSource) Subscriber(spec transport.SubscriberSpec, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	c.subscribers.Add(1)
	return c.Source.Subscriber(spec, logger)
}

func (c *countingSource) Close() error {
	c.closes.Add(1)
	err := c.Source.Close()
	if c.closeErr != nil {
		return c.closeErr
	}
	return err
}

// stubSubscriber never delivers and can fail on Close.
type stubSubscriber struct {
	closeErr error
	closes   atomic.Int32
}

func (s *stubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *stubSubscriber) Close() error {
	s.closes.Add(1)
	return s.closeErr
}

// stubSource hands out stubSubscribers and records the specs it saw.
type stubSource struct {
	topics   []string
	listErr  error
	subErr   error
	closeErr error

	mu    sync.Mutex
	specs []transport.SubscriberSpec
	subs  []*stubSubscriber
}

func (s *stubSource) TopicExists(ctx context.Context, name string) (bool, error) {
	for _, t := range s.topics {
		if t == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubSource) Topics(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.topics, nil
}

func (s *stubSource) Subscriber(spec transport.SubscriberSpec, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if s.subErr != nil {
		return nil, s.subErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &stubSubscriber{closeErr: s.closeErr}
	s.specs = append(s.specs, spec)
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *stubSource) Close() error { return nil }

var errBoom = errors.New("boom")

func newTestService(t *testing.T, cfg *configpkg.Config, source transport.Source, hooks RecordHooks) (*Service, *logtest.Recorder) {
	t.Helper()
	logs := logtest.New()
	svc, err := NewService(cfg, logs, ServiceDependencies{
		Source:         source,
		SchemaRegistry: decodepkg.StaticRegistry{},
		Registerer:     prometheus.NewRegistry(),
		Hooks:          hooks,
	})
	require.NoError(t, err)
	return svc, logs
}

// startService runs svc in the background and waits until it is ready.
func startService(t *testing.T, svc *Service) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("service stopped before becoming ready: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("service did not become ready")
	}
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("service did not stop")
		return nil
	}
}

func jsonMessage(uuid, payload string) *message.Message {
	return message.NewMessage(uuid, []byte(payload))
}
