package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/linkedin/goavro/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/transitboard/internal/runtime/config"
	decodepkg "github.com/drblury/transitboard/internal/runtime/decode"
	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
	gatepkg "github.com/drblury/transitboard/internal/runtime/gate"
	"github.com/drblury/transitboard/internal/runtime/logging/logtest"
)

func TestNewServiceValidation(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewService(nil, logtest.New(), ServiceDependencies{})
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewService(testConfig(), nil, ServiceDependencies{})
		assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.HTTPAddress = ""
		_, err := NewService(cfg, logtest.New(), ServiceDependencies{})
		var cfgErr errspkg.ConfigValidationError
		require.ErrorAs(t, err, &cfgErr)
		assert.ErrorContains(t, err, "http: address is required")
	})

	t.Run("unknown transport", func(t *testing.T) {
		cfg := testConfig()
		cfg.PubSubSystem = "carrier-pigeon"
		_, err := NewService(cfg, logtest.New(), ServiceDependencies{Registerer: prometheus.NewRegistry()})
		assert.Error(t, err)
	})

	t.Run("failing middleware", func(t *testing.T) {
		_, err := NewService(testConfig(), logtest.New(), ServiceDependencies{
			Source:     newCountingSource(),
			Registerer: prometheus.NewRegistry(),
			Middlewares: []MiddlewareRegistration{{
				Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, errBoom },
			}},
		})
		assert.ErrorIs(t, err, errBoom)
		assert.ErrorContains(t, err, "anonymous_middleware")
	})
}

func TestNewServiceBuildsSourceFromRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.ChannelTopics = []string{summaryTopic, stationsTopic}

	svc, err := NewService(cfg, logtest.New(), ServiceDependencies{
		SchemaRegistry: decodepkg.StaticRegistry{},
		Registerer:     prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ok, err := svc.source.TopicExists(context.Background(), summaryTopic)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateUnstarted, svc.State())
	assert.Empty(t, svc.Bindings(), "bindings are built once the gate passes")
	assert.Nil(t, svc.statusServer())
	assert.Empty(t, svc.Addr())
	require.NoError(t, svc.source.Close())
}

func TestStartFailsWhenSummaryTopicMissing(t *testing.T) {
	source := newCountingSource(stationsTopic)
	svc, logs := newTestService(t, testConfig(), source, RecordHooks{})

	err := svc.Start(context.Background())

	require.ErrorIs(t, err, gatepkg.ErrNotReady)
	var missing *gatepkg.MissingTopicError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, summaryTopic, missing.Topic)
	assert.Contains(t, missing.Remedy, "KSQL")

	assert.Equal(t, StateFailed, svc.State())
	assert.Empty(t, svc.Bindings(), "no binding may be built before the gate passes")
	assert.Nil(t, svc.statusServer(), "the status server may not be built before the gate passes")
	assert.Zero(t, source.subscribers.Load(), "no binding may subscribe before the gate passes")
	assert.Empty(t, svc.Addr(), "no port may be bound before the gate passes")
	assert.Equal(t, int32(1), source.closes.Load())

	entry, ok := logs.Find("error", "Readiness check failed")
	require.True(t, ok)
	assert.Equal(t, summaryTopic, entry.Fields["topic"])

	select {
	case <-svc.Ready():
		t.Fatal("a failed service must never report ready")
	default:
	}
}

func TestStartFailsOnSecondRequirement(t *testing.T) {
	source := newCountingSource(summaryTopic)
	svc, _ := newTestService(t, testConfig(), source, RecordHooks{})

	err := svc.Start(context.Background())

	var missing *gatepkg.MissingTopicError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, stationsTopic, missing.Topic)
	assert.Contains(t, missing.Remedy, "Faust")
	assert.Empty(t, svc.Bindings())
	assert.Nil(t, svc.statusServer())
	assert.Zero(t, source.subscribers.Load())
}

func TestStartFailsWhenCheckerErrors(t *testing.T) {
	source := newCountingSource(summaryTopic, stationsTopic)
	source.topicErr = errBoom
	svc, _ := newTestService(t, testConfig(), source, RecordHooks{})

	err := svc.Start(context.Background())

	assert.ErrorIs(t, err, gatepkg.ErrNotReady)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateFailed, svc.State())
	assert.Zero(t, source.subscribers.Load())
}

func TestStartServesInitialState(t *testing.T) {
	source := newCountingSource(summaryTopic, stationsTopic)
	svc, _ := newTestService(t, testConfig(), source, RecordHooks{})

	cancel, done := startService(t, svc)
	assert.Equal(t, StateRunning, svc.State())
	require.NotEmpty(t, svc.Addr())
	assert.Len(t, svc.Bindings(), 4)

	resp, err := http.Get("http://" + svc.Addr() + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "70.0")
	assert.Contains(t, string(body), "Sunny")

	resp, err = http.Post("http://"+svc.Addr()+"/", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	cancel()
	require.NoError(t, waitStopped(t, done))
	assert.Equal(t, StateStopped, svc.State())
	assert.Equal(t, int32(1), source.closes.Load())
	// The arrivals pattern matches no declared topic.
	assert.Equal(t, int32(3), source.subscribers.Load())
}

func TestStartDeliversEarliestRecordsInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Requirements = []gatepkg.Requirement{}
	cfg.Bindings = []configpkg.BindingConfig{
		{Name: "weather", Source: weatherTopic, Offset: "earliest", Format: "json", Model: configpkg.ModelWeather},
	}

	source := newCountingSource()
	for i, id := range []string{"A", "B", "C"} {
		payload := fmt.Sprintf(`{"temperature": %d, "status": "cloudy"}`, 50+i)
		require.NoError(t, source.Publish(weatherTopic, jsonMessage(id, payload)))
	}

	var mu sync.Mutex
	var seen []string
	svc, _ := newTestService(t, cfg, source, RecordHooks{
		OnRecordDone: func(ctx RecordContext) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ctx.MessageUUID)
		},
	})

	cancel, done := startService(t, svc)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	// Give a duplicate delivery the chance to show up.
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, waitStopped(t, done))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "B", "C"}, seen)

	snap := svc.Weather().Snapshot()
	assert.Equal(t, 52.0, snap.Temperature)
	assert.Equal(t, "cloudy", snap.Status)
	assert.Equal(t, uint64(3), snap.Updates)
}

func TestStartKeepsRecordOrderWithinBinding(t *testing.T) {
	cfg := testConfig()
	cfg.Requirements = []gatepkg.Requirement{}
	cfg.Bindings = []configpkg.BindingConfig{
		{Name: "weather", Source: weatherTopic, Offset: "earliest", Format: "json", Model: configpkg.ModelWeather},
	}

	var want []string
	publish := func(source *countingSource, from, to int) {
		for i := from; i < to; i++ {
			id := fmt.Sprintf("w%02d", i)
			want = append(want, id)
			payload := fmt.Sprintf(`{"temperature": %d, "status": "windy"}`, i)
			require.NoError(t, source.Publish(weatherTopic, jsonMessage(id, payload)))
		}
	}

	source := newCountingSource()
	publish(source, 0, 15)

	var mu sync.Mutex
	var seen []string
	svc, _ := newTestService(t, cfg, source, RecordHooks{
		OnRecordDone: func(ctx RecordContext) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ctx.MessageUUID)
		},
	})

	cancel, done := startService(t, svc)
	publish(source, 15, 30)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 30
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitStopped(t, done))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
	assert.Equal(t, 29.0, svc.Weather().Snapshot().Temperature)
}

func TestStartKeepsBindingsIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.Requirements = []gatepkg.Requirement{}
	cfg.Bindings = []configpkg.BindingConfig{
		{Name: "weather", Source: weatherTopic, Format: "json", Model: configpkg.ModelWeather},
		{Name: "stations", Source: stationsTopic, Format: "json", Model: configpkg.ModelLines},
	}

	source := newCountingSource()
	require.NoError(t, source.Publish(weatherTopic,
		jsonMessage("w1", `{"temperature": "hot"}`),
		jsonMessage("w2", `{"temperature": 12.5, "status": "windy"}`),
	))
	require.NoError(t, source.Publish(stationsTopic,
		jsonMessage("s1", `not json`),
		jsonMessage("s2", `{"station_id": 40380, "station_name": "Clark/Lake", "order": 3, "line": "blue"}`),
	))

	var mu sync.Mutex
	outcomes := map[string]bool{}
	svc, _ := newTestService(t, cfg, source, RecordHooks{
		OnRecordDone: func(ctx RecordContext) {
			mu.Lock()
			defer mu.Unlock()
			outcomes[ctx.MessageUUID] = true
		},
		OnRecordSkipped: func(ctx RecordContext, err error) {
			mu.Lock()
			defer mu.Unlock()
			outcomes[ctx.MessageUUID] = false
		},
	})

	cancel, done := startService(t, svc)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 4
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, waitStopped(t, done))

	assert.Equal(t, map[string]bool{"w1": false, "w2": true, "s1": false, "s2": true}, outcomes)
	assert.Equal(t, 12.5, svc.Weather().Snapshot().Temperature)
	blue := svc.Lines().Snapshot()[2]
	require.Len(t, blue.Stations, 1)
	assert.Equal(t, "Clark/Lake", blue.Stations[0].Name)
}

func TestStartDecodesAvroRecords(t *testing.T) {
	codec, err := goavro.NewCodec(`{
		"type": "record", "name": "weather",
		"fields": [
			{"name": "temperature", "type": "float"},
			{"name": "status", "type": {"type": "enum", "name": "status", "symbols": ["sunny", "partly_cloudy", "cloudy", "windy", "precipitation"]}}
		]
	}`)
	require.NoError(t, err)
	body, err := codec.BinaryFromNative(nil, map[string]any{"temperature": float32(41.5), "status": "partly_cloudy"})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Requirements = []gatepkg.Requirement{}
	cfg.Bindings = []configpkg.BindingConfig{
		{Name: "weather", Source: weatherTopic, Format: "avro", Model: configpkg.ModelWeather},
	}
	source := newCountingSource()
	require.NoError(t, source.Publish(weatherTopic, message.NewMessage("w1", decodepkg.Frame(3, body))))

	applied := make(chan struct{}, 1)
	svc, err := NewService(cfg, logtest.New(), ServiceDependencies{
		Source:         source,
		SchemaRegistry: decodepkg.StaticRegistry{3: codec},
		Registerer:     prometheus.NewRegistry(),
		Hooks: RecordHooks{
			OnRecordDone: func(RecordContext) { applied <- struct{}{} },
		},
	})
	require.NoError(t, err)

	cancel, done := startService(t, svc)
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("avro record was not applied")
	}
	cancel()
	require.NoError(t, waitStopped(t, done))

	snap := svc.Weather().Snapshot()
	assert.InDelta(t, 41.5, snap.Temperature, 0.001)
	assert.Equal(t, "partly_cloudy", snap.Status)
}

func TestStartTwice(t *testing.T) {
	source := newCountingSource(summaryTopic, stationsTopic)
	svc, _ := newTestService(t, testConfig(), source, RecordHooks{})

	cancel, done := startService(t, svc)
	assert.ErrorIs(t, svc.Start(context.Background()), errspkg.ErrAlreadyStarted)
	cancel()
	require.NoError(t, waitStopped(t, done))
	assert.ErrorIs(t, svc.Start(context.Background()), errspkg.ErrAlreadyStarted)
}

func TestStartFailsWhenPortTaken(t *testing.T) {
	first, _ := newTestService(t, testConfig(), newCountingSource(summaryTopic, stationsTopic), RecordHooks{})
	cancel, done := startService(t, first)
	defer func() {
		cancel()
		_ = waitStopped(t, done)
	}()

	cfg := testConfig()
	cfg.HTTPAddress = first.Addr()
	source := newCountingSource(summaryTopic, stationsTopic)
	second, _ := newTestService(t, cfg, source, RecordHooks{})

	err := second.Start(context.Background())
	assert.ErrorContains(t, err, "listen on")
	assert.Equal(t, StateFailed, second.State())
	assert.Equal(t, int32(1), source.closes.Load())
}

func TestCloseBindingsIsBestEffort(t *testing.T) {
	cfg := testConfig()
	cfg.Requirements = []gatepkg.Requirement{}
	cfg.Bindings = []configpkg.BindingConfig{
		{Name: "weather", Source: weatherTopic, Model: configpkg.ModelWeather},
		{Name: "stations", Source: stationsTopic, Model: configpkg.ModelLines},
	}
	source := &stubSource{closeErr: errBoom}
	svc, logs := newTestService(t, cfg, source, RecordHooks{})

	cancel, done := startService(t, svc)
	cancel()
	require.NoError(t, waitStopped(t, done), "close failures must not fail a clean interrupt")

	require.Len(t, source.subs, 2)
	for _, sub := range source.subs {
		assert.GreaterOrEqual(t, sub.closes.Load(), int32(1), "every binding must be closed")
	}

	failures := 0
	for _, e := range logs.Entries() {
		if e.Msg == "Failed to close binding" {
			failures++
			assert.True(t, errors.Is(e.Err, errBoom))
		}
	}
	assert.Equal(t, 2, failures)

	err := svc.closeBindings()
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorContains(t, err, "binding weather")
	assert.ErrorContains(t, err, "binding stations")
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateUnstarted:    "unstarted",
		StateGating:       "gating",
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateStopped:      "stopped",
		StateFailed:       "failed",
		State(42):         "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
