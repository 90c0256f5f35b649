// Package stream holds the vocabulary shared by bindings, decoders and view
// models: the decoded Record, the Processor mutation contract and the
// per-binding delivery options.
package stream

import (
	"fmt"
	"strings"
	"time"

	metadatapkg "github.com/drblury/transitboard/internal/runtime/metadata"
)

// OffsetPolicy selects where a binding starts reading when it has no
// committed position.
type OffsetPolicy string

const (
	// OffsetEarliest replays all retained history.
	OffsetEarliest OffsetPolicy = "earliest"
	// OffsetLatest only delivers records produced after the subscription.
	OffsetLatest OffsetPolicy = "latest"
)

// ParseOffsetPolicy accepts the config spelling of an offset policy. The
// empty string means earliest.
func ParseOffsetPolicy(raw string) (OffsetPolicy, error) {
	switch OffsetPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OffsetEarliest:
		return OffsetEarliest, nil
	case OffsetLatest:
		return OffsetLatest, nil
	default:
		return "", fmt.Errorf("unknown offset policy %q", raw)
	}
}

// Format tells the binding how record payloads are encoded on the wire.
type Format string

const (
	// FormatAvro is the schema registry framed Avro encoding.
	FormatAvro Format = "avro"
	// FormatJSON is a plain JSON document.
	FormatJSON Format = "json"
	// FormatProtobuf is a serialized google.protobuf.Struct.
	FormatProtobuf Format = "protobuf"
)

// ParseFormat accepts the config spelling of a payload format. The empty
// string means json.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatJSON, "plain":
		return FormatJSON, nil
	case FormatAvro:
		return FormatAvro, nil
	case FormatProtobuf, "proto":
		return FormatProtobuf, nil
	default:
		return "", fmt.Errorf("unknown payload format %q", raw)
	}
}

// Record is one decoded message. Value always holds a JSON document no matter
// which wire format the binding was configured with.
type Record struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
	Metadata  metadatapkg.Metadata
}

// Processor is the single mutation entry point a view model exposes to the
// bindings that feed it.
type Processor interface {
	ProcessMessage(rec Record) error
}

// ProcessorFunc adapts a plain function into a Processor.
type ProcessorFunc func(rec Record) error

func (f ProcessorFunc) ProcessMessage(rec Record) error {
	return f(rec)
}
