package runtime

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/transitboard/internal/runtime/config"
	decodepkg "github.com/drblury/transitboard/internal/runtime/decode"
	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
	metadatapkg "github.com/drblury/transitboard/internal/runtime/metadata"
	"github.com/drblury/transitboard/internal/runtime/stream"
	"github.com/drblury/transitboard/transport"
)

// Outcomes recorded per record on the binding counter.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
)

// Binding is one independent consumption loop: a source (topic or pattern),
// a delivery policy, a payload decoder and the view model it feeds. A binding
// never lets a bad record escape to its neighbours: decode failures, model
// errors and panics are logged, counted and the record is acknowledged.
type Binding struct {
	Name string

	conf      configpkg.BindingConfig
	offset    stream.OffsetPolicy
	format    stream.Format
	pattern   *regexp.Regexp
	decoder   decodepkg.Decoder
	processor stream.Processor
	logger    loggingpkg.ServiceLogger
	stats     *BindingStats
	hooks     RecordHooks

	mu         sync.Mutex
	topics     []string
	subscriber message.Subscriber

	closeOnce sync.Once
	closeErr  error
}

// BindingInfo is the JSON view of a binding served on /api/bindings.
type BindingInfo struct {
	Name    string        `json:"name"`
	Source  string        `json:"source"`
	Pattern bool          `json:"pattern"`
	Topics  []string      `json:"topics"`
	Offset  string        `json:"offset"`
	Format  string        `json:"format"`
	Model   string        `json:"model"`
	Stats   *BindingStats `json:"stats"`
}

// NewBinding validates conf and prepares a binding. Nothing is subscribed
// until the service starts it.
func NewBinding(conf configpkg.BindingConfig, decoder decodepkg.Decoder, processor stream.Processor, logger loggingpkg.ServiceLogger) (*Binding, error) {
	if conf.Name == "" {
		return nil, errspkg.ErrBindingNameMissing
	}
	if conf.Source == "" {
		return nil, fmt.Errorf("binding %s: %w", conf.Name, errspkg.ErrBindingSourceEmpty)
	}
	if decoder == nil {
		return nil, fmt.Errorf("binding %s: decoder is required", conf.Name)
	}
	if processor == nil {
		return nil, fmt.Errorf("binding %s: %w", conf.Name, errspkg.ErrProcessorRequired)
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}

	offset, err := stream.ParseOffsetPolicy(conf.Offset)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", conf.Name, err)
	}
	format, err := stream.ParseFormat(conf.Format)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", conf.Name, err)
	}

	b := &Binding{
		Name:      conf.Name,
		conf:      conf,
		offset:    offset,
		format:    format,
		decoder:   decoder,
		processor: processor,
		logger:    logger.With(loggingpkg.LogFields{"binding": conf.Name}),
		stats:     newBindingStats(),
	}
	if conf.Pattern {
		b.pattern, err = regexp.Compile(conf.Source)
		if err != nil {
			return nil, fmt.Errorf("binding %s: invalid pattern: %w", conf.Name, err)
		}
	} else {
		b.topics = []string{conf.Source}
	}
	return b, nil
}

// Resolve fixes the topics the binding reads. Pattern bindings are matched
// against the source's topic list once; topics created later are not picked
// up until restart.
func (b *Binding) Resolve(ctx context.Context, source transport.Source) ([]string, error) {
	if b.pattern == nil {
		return b.Topics(), nil
	}
	all, err := source.Topics(ctx)
	if err != nil {
		return nil, fmt.Errorf("binding %s: list topics: %w", b.Name, err)
	}
	var matched []string
	for _, topic := range all {
		if b.pattern.MatchString(topic) {
			matched = append(matched, topic)
		}
	}

	b.mu.Lock()
	b.topics = matched
	b.mu.Unlock()

	if len(matched) == 0 {
		b.logger.Info("Pattern matched no topics", loggingpkg.LogFields{"pattern": b.conf.Source})
	} else {
		b.logger.Debug("Pattern resolved", loggingpkg.LogFields{"pattern": b.conf.Source, "topics": matched})
	}
	return matched, nil
}

// Open creates the binding's own subscriber.
func (b *Binding) Open(source transport.Source, logger loggingpkg.ServiceLogger) (message.Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscriber != nil {
		return b.subscriber, nil
	}
	sub, err := source.Subscriber(transport.SubscriberSpec{
		Binding:       b.Name,
		Offset:        b.offset,
		ConsumerGroup: b.conf.ConsumerGroup,
	}, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("binding %s: create subscriber: %w", b.Name, err)
	}
	b.subscriber = sub
	return sub, nil
}

// Topics returns the topics the binding reads.
func (b *Binding) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.topics))
	copy(out, b.topics)
	return out
}

// Stats returns the live statistics of the binding.
func (b *Binding) Stats() *BindingStats {
	return b.stats
}

// Info describes the binding for the admin API.
func (b *Binding) Info() BindingInfo {
	return BindingInfo{
		Name:    b.Name,
		Source:  b.conf.Source,
		Pattern: b.conf.Pattern,
		Topics:  b.Topics(),
		Offset:  string(b.offset),
		Format:  string(b.format),
		Model:   b.conf.Model,
		Stats:   b.stats,
	}
}

// HandlerName names the router handler for one of the binding's topics.
func (b *Binding) HandlerName(topic string) string {
	return b.Name + ":" + topic
}

// Handler returns the router handler for topic. It always acknowledges.
func (b *Binding) Handler(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		b.handle(topic, msg)
		return nil
	}
}

// SetHooks replaces the record hooks. Call before the service starts.
func (b *Binding) SetHooks(hooks RecordHooks) {
	b.hooks = hooks
}

func (b *Binding) handle(topic string, msg *message.Message) {
	rc := RecordContext{
		Binding:     b.Name,
		Topic:       topic,
		MessageUUID: msg.UUID,
		Offset:      offsetOf(msg),
		Metadata:    metadatapkg.FromWatermill(msg.Metadata),
		StartedAt:   time.Now(),
	}
	b.stats.onRecordStart()
	b.hooks.start(rc)

	err := b.process(topic, msg)

	rc.Duration = time.Since(rc.StartedAt)
	b.stats.onRecordFinish(topic, msg, rc.Duration, err)
	if err != nil {
		b.logger.Error("Skipping record", err, loggingpkg.LogFields{
			"topic":          topic,
			"offset":         rc.Offset,
			"message_uuid":   msg.UUID,
			"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
		})
	}
	b.hooks.finish(rc, err)
}

func (b *Binding) process(topic string, msg *message.Message) (err error) {
	offset := offsetOf(msg)
	defer func() {
		if r := recover(); r != nil {
			err = &RecordError{Binding: b.Name, Topic: topic, Offset: offset, Stage: StagePanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	value, err := b.decoder.Decode(msg.Payload)
	if err != nil {
		return &RecordError{Binding: b.Name, Topic: topic, Offset: offset, Stage: StageDecode, Err: err}
	}
	if err := b.processor.ProcessMessage(b.record(topic, offset, value, msg)); err != nil {
		return &RecordError{Binding: b.Name, Topic: topic, Offset: offset, Stage: StageProcess, Err: err}
	}
	return nil
}

func (b *Binding) record(topic string, offset int64, value []byte, msg *message.Message) stream.Record {
	rec := stream.Record{
		Topic:     topic,
		Value:     value,
		Partition: -1,
		Offset:    offset,
		Metadata:  metadatapkg.FromWatermill(msg.Metadata),
	}
	if key := msg.Metadata.Get(metadatapkg.KeyRecordKey); key != "" {
		rec.Key = []byte(key)
	}
	if p, err := strconv.ParseInt(msg.Metadata.Get(metadatapkg.KeyPartition), 10, 32); err == nil {
		rec.Partition = int32(p)
	}
	if ts, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(metadatapkg.KeyTimestamp)); err == nil {
		rec.Timestamp = ts
	}
	return rec
}

func offsetOf(msg *message.Message) int64 {
	return parseInt64Metadata(msg, metadatapkg.KeyOffset)
}

// Close releases the binding's subscriber. It is safe to call on a binding
// that was never opened, and repeated calls return the first result.
func (b *Binding) Close() error {
	if b == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		sub := b.subscriber
		b.mu.Unlock()
		if sub == nil {
			return
		}
		if err := sub.Close(); err != nil {
			b.closeErr = fmt.Errorf("binding %s: close subscriber: %w", b.Name, err)
		}
	})
	return b.closeErr
}
