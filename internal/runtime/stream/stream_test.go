package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOffsetPolicy(t *testing.T) {
	for raw, want := range map[string]OffsetPolicy{
		"":         OffsetEarliest,
		"earliest": OffsetEarliest,
		"LATEST":   OffsetLatest,
		" latest ": OffsetLatest,
	} {
		got, err := ParseOffsetPolicy(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseOffsetPolicy("middle")
	assert.ErrorContains(t, err, "middle")
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{
		"":         FormatJSON,
		"plain":    FormatJSON,
		"json":     FormatJSON,
		"Avro":     FormatAvro,
		"proto":    FormatProtobuf,
		"protobuf": FormatProtobuf,
	} {
		got, err := ParseFormat(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestProcessorFunc(t *testing.T) {
	var seen []string
	p := ProcessorFunc(func(rec Record) error {
		seen = append(seen, rec.Topic)
		return nil
	})

	require.NoError(t, p.ProcessMessage(Record{Topic: "weather"}))
	assert.Equal(t, []string{"weather"}, seen)
}
