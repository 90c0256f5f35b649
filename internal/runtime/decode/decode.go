// Package decode turns raw record payloads into JSON documents according to a
// binding's payload format.
package decode

import (
	"errors"
	"fmt"

	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
	"github.com/drblury/transitboard/internal/runtime/jsoncodec"
	"github.com/drblury/transitboard/internal/runtime/stream"
)

// ErrInvalidJSON is returned when a plain payload is not a JSON document.
var ErrInvalidJSON = errors.New("transitboard: payload is not valid JSON")

// Decoder converts one wire payload into a JSON document.
type Decoder interface {
	Decode(payload []byte) ([]byte, error)
}

// New returns the decoder for format. Avro needs a schema registry.
func New(format stream.Format, registry SchemaRegistry) (Decoder, error) {
	switch format {
	case stream.FormatJSON, "":
		return jsonDecoder{}, nil
	case stream.FormatAvro:
		if registry == nil {
			return nil, errors.New("transitboard: avro payloads require a schema registry")
		}
		return &avroDecoder{registry: registry}, nil
	case stream.FormatProtobuf:
		return protobufDecoder{}, nil
	default:
		return nil, fmt.Errorf("transitboard: unsupported payload format %q", format)
	}
}

type jsonDecoder struct{}

func (jsonDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errspkg.ErrEmptyPayload
	}
	if !jsoncodec.Valid(payload) {
		return nil, ErrInvalidJSON
	}
	return payload, nil
}
