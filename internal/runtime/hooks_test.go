package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/transitboard/internal/runtime/config"
	"github.com/drblury/transitboard/internal/runtime/logging/logtest"
	"github.com/drblury/transitboard/internal/runtime/stream"
)

func TestRecordHooks_OnRecordStart(t *testing.T) {
	var captured RecordContext
	proc := &recordingProcessor{}
	b, _ := newJSONBinding(t, configpkg.BindingConfig{Name: "weather", Source: "weather"}, proc)
	b.SetHooks(RecordHooks{
		OnRecordStart: func(ctx RecordContext) { captured = ctx },
	})

	require.NoError(t, b.Handler("weather")(jsonMessage("test-uuid", `{}`)))

	assert.Equal(t, "weather", captured.Binding)
	assert.Equal(t, "weather", captured.Topic)
	assert.Equal(t, "test-uuid", captured.MessageUUID)
	assert.Equal(t, int64(-1), captured.Offset)
	assert.False(t, captured.StartedAt.IsZero())
	assert.Zero(t, captured.Duration)
}

func TestRecordHooks_OnRecordDone(t *testing.T) {
	var captured RecordContext
	var skipped bool
	b, _ := newJSONBinding(t, configpkg.BindingConfig{Name: "weather", Source: "weather"}, &slowProcessor{delay: 10 * time.Millisecond})
	b.SetHooks(RecordHooks{
		OnRecordDone:    func(ctx RecordContext) { captured = ctx },
		OnRecordSkipped: func(RecordContext, error) { skipped = true },
	})

	require.NoError(t, b.Handler("weather")(jsonMessage("test-uuid", `{}`)))

	assert.False(t, skipped)
	assert.Equal(t, "test-uuid", captured.MessageUUID)
	assert.GreaterOrEqual(t, captured.Duration, 10*time.Millisecond)
}

func TestRecordHooks_Merge(t *testing.T) {
	var order []string
	first := RecordHooks{
		OnRecordStart:   func(RecordContext) { order = append(order, "first-start") },
		OnRecordSkipped: func(RecordContext, error) { order = append(order, "first-skipped") },
	}
	second := RecordHooks{
		OnRecordStart:   func(RecordContext) { order = append(order, "second-start") },
		OnRecordDone:    func(RecordContext) { order = append(order, "second-done") },
		OnRecordSkipped: func(RecordContext, error) { order = append(order, "second-skipped") },
	}

	merged := first.Merge(second)
	merged.start(RecordContext{})
	merged.finish(RecordContext{}, nil)
	merged.finish(RecordContext{}, errBoom)

	assert.Equal(t, []string{
		"first-start", "second-start",
		"second-done",
		"first-skipped", "second-skipped",
	}, order)
}

func TestRecordHooks_MergeWithEmpty(t *testing.T) {
	called := 0
	hooks := RecordHooks{OnRecordDone: func(RecordContext) { called++ }}

	RecordHooks{}.Merge(hooks).finish(RecordContext{}, nil)
	hooks.Merge(RecordHooks{}).finish(RecordContext{}, nil)
	RecordHooks{}.Merge(RecordHooks{}).finish(RecordContext{}, errBoom)

	assert.Equal(t, 2, called)
}

func TestLoggingHooks(t *testing.T) {
	logs := logtest.New()
	hooks := LoggingHooks(logs)
	ctx := RecordContext{Binding: "stations", Topic: stationsTopic, MessageUUID: "m1", Offset: 4, Duration: 3 * time.Millisecond}

	hooks.finish(ctx, nil)
	hooks.finish(ctx, errBoom)

	done, ok := logs.Find("trace", "Record applied")
	require.True(t, ok)
	assert.Equal(t, "stations", done.Fields["binding"])
	assert.Equal(t, int64(3), done.Fields["duration_ms"])

	skipped, ok := logs.Find("trace", "Record skipped")
	require.True(t, ok)
	assert.Equal(t, "boom", skipped.Fields["error"])
	assert.Equal(t, int64(4), skipped.Fields["offset"])
}

func TestMetricsHooks(t *testing.T) {
	got := map[string]int{}
	hooks := MetricsHooks(func(binding, outcome string) {
		got[binding+"/"+outcome]++
	})

	hooks.finish(RecordContext{Binding: "weather"}, nil)
	hooks.finish(RecordContext{Binding: "weather"}, nil)
	hooks.finish(RecordContext{Binding: "arrivals"}, errBoom)

	assert.Equal(t, map[string]int{
		"weather/" + OutcomeProcessed: 2,
		"arrivals/" + OutcomeSkipped:  1,
	}, got)
}

type slowProcessor struct {
	delay time.Duration
}

func (p *slowProcessor) ProcessMessage(rec stream.Record) error {
	time.Sleep(p.delay)
	return nil
}
