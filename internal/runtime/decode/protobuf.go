package decode

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
)

type protobufDecoder struct{}

func (protobufDecoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errspkg.ErrEmptyPayload
	}
	var doc structpb.Struct
	if err := proto.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode protobuf struct: %w", err)
	}
	return protojson.Marshal(&doc)
}
