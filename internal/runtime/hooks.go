package runtime

import (
	"time"

	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
	metadatapkg "github.com/drblury/transitboard/internal/runtime/metadata"
)

// RecordContext provides information about one record to hooks.
type RecordContext struct {
	// Binding is the name of the binding that received the record.
	Binding string
	// Topic is the topic the record was read from.
	Topic       string
	MessageUUID string
	// Offset is the broker offset, or -1 when the source has none.
	Offset   int64
	Metadata metadatapkg.Metadata
	// StartedAt is when the binding started handling the record.
	StartedAt time.Time
	// Duration is only set in OnRecordDone and OnRecordSkipped.
	Duration time.Duration
}

// RecordHooks defines callbacks for the record lifecycle of every binding.
// All hooks are optional. Hooks run on the binding's handler goroutine and
// must not block.
type RecordHooks struct {
	OnRecordStart func(ctx RecordContext)
	// OnRecordDone is called after the view model accepted the record.
	OnRecordDone func(ctx RecordContext)
	// OnRecordSkipped is called when decoding, the view model or a panic
	// rejected the record. The record is acknowledged regardless.
	OnRecordSkipped func(ctx RecordContext, err error)
}

// Merge combines two RecordHooks. The hooks from other run after those from h.
func (h RecordHooks) Merge(other RecordHooks) RecordHooks {
	return RecordHooks{
		OnRecordStart:   chainHooks(h.OnRecordStart, other.OnRecordStart),
		OnRecordDone:    chainHooks(h.OnRecordDone, other.OnRecordDone),
		OnRecordSkipped: chainSkippedHooks(h.OnRecordSkipped, other.OnRecordSkipped),
	}
}

func chainHooks(a, b func(RecordContext)) func(RecordContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RecordContext) {
		a(ctx)
		b(ctx)
	}
}

func chainSkippedHooks(a, b func(RecordContext, error)) func(RecordContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RecordContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h RecordHooks) start(ctx RecordContext) {
	if h.OnRecordStart != nil {
		h.OnRecordStart(ctx)
	}
}

func (h RecordHooks) finish(ctx RecordContext, err error) {
	if err != nil {
		if h.OnRecordSkipped != nil {
			h.OnRecordSkipped(ctx, err)
		}
		return
	}
	if h.OnRecordDone != nil {
		h.OnRecordDone(ctx)
	}
}

// LoggingHooks returns hooks that log every record outcome at trace level.
// Skipped records are already logged by the binding at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) RecordHooks {
	return RecordHooks{
		OnRecordDone: func(ctx RecordContext) {
			logger.Trace("Record applied", loggingpkg.LogFields{
				"binding":      ctx.Binding,
				"topic":        ctx.Topic,
				"offset":       ctx.Offset,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnRecordSkipped: func(ctx RecordContext, err error) {
			logger.Trace("Record skipped", loggingpkg.LogFields{
				"binding":      ctx.Binding,
				"topic":        ctx.Topic,
				"offset":       ctx.Offset,
				"message_uuid": ctx.MessageUUID,
				"error":        err.Error(),
			})
		},
	}
}

// MetricsHooks returns hooks that report each outcome per binding.
func MetricsHooks(onOutcome func(binding, outcome string)) RecordHooks {
	return RecordHooks{
		OnRecordDone: func(ctx RecordContext) {
			onOutcome(ctx.Binding, OutcomeProcessed)
		},
		OnRecordSkipped: func(ctx RecordContext, err error) {
			onOutcome(ctx.Binding, OutcomeSkipped)
		},
	}
}
