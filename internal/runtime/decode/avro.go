package decode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/linkedin/goavro/v2"
	"github.com/riferrei/srclient"

	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
	"github.com/drblury/transitboard/internal/runtime/jsoncodec"
)

// wireHeaderSize is the magic byte plus the big-endian schema id.
const wireHeaderSize = 5

// ErrNotFramed is returned for Avro payloads missing the schema registry
// wire header.
var ErrNotFramed = errors.New("transitboard: payload is not schema registry framed")

// SchemaRegistry resolves writer schemas by id.
type SchemaRegistry interface {
	Codec(schemaID int) (*goavro.Codec, error)
}

// NewSchemaRegistry returns a registry backed by a Confluent compatible
// schema registry. Fetched schemas are cached by the client.
func NewSchemaRegistry(url string) SchemaRegistry {
	return &registryClient{client: srclient.CreateSchemaRegistryClient(url)}
}

type registryClient struct {
	client *srclient.SchemaRegistryClient
}

func (r *registryClient) Codec(schemaID int) (*goavro.Codec, error) {
	schema, err := r.client.GetSchema(schemaID)
	if err != nil {
		return nil, fmt.Errorf("fetch schema %d: %w", schemaID, err)
	}
	codec := schema.Codec()
	if codec == nil {
		return nil, fmt.Errorf("schema %d is not a valid avro schema", schemaID)
	}
	return codec, nil
}

// StaticRegistry serves codecs from memory; used for local runs and tests.
type StaticRegistry map[int]*goavro.Codec

func (s StaticRegistry) Codec(schemaID int) (*goavro.Codec, error) {
	codec, ok := s[schemaID]
	if !ok {
		return nil, fmt.Errorf("schema %d not registered", schemaID)
	}
	return codec, nil
}

type avroDecoder struct {
	registry SchemaRegistry
}

func (d *avroDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errspkg.ErrEmptyPayload
	}
	schemaID, body, err := SplitFrame(payload)
	if err != nil {
		return nil, err
	}
	codec, err := d.registry.Codec(schemaID)
	if err != nil {
		return nil, err
	}
	native, _, err := codec.NativeFromBinary(body)
	if err != nil {
		return nil, fmt.Errorf("decode avro with schema %d: %w", schemaID, err)
	}
	return jsoncodec.Marshal(native)
}

// SplitFrame separates the schema id from the Avro body.
func SplitFrame(payload []byte) (int, []byte, error) {
	if len(payload) < wireHeaderSize || payload[0] != 0 {
		return 0, nil, ErrNotFramed
	}
	return int(binary.BigEndian.Uint32(payload[1:wireHeaderSize])), payload[wireHeaderSize:], nil
}

// Frame prepends the schema registry wire header to an Avro body.
func Frame(schemaID int, body []byte) []byte {
	out := make([]byte, wireHeaderSize, wireHeaderSize+len(body))
	binary.BigEndian.PutUint32(out[1:], uint32(schemaID))
	return append(out, body...)
}
