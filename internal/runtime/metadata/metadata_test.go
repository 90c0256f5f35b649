package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestNewPairs(t *testing.T) {
	md := New(KeyTopic, "weather", KeyPartition, "0", "dangling")
	assert.Equal(t, Metadata{KeyTopic: "weather", KeyPartition: "0"}, md)
}

func TestWithDoesNotMutate(t *testing.T) {
	base := New(KeyTopic, "weather")
	next := base.With(KeyOffset, "12")

	assert.Len(t, base, 1)
	assert.Equal(t, "12", next.Get(KeyOffset))
	assert.Equal(t, "weather", next.Get(KeyTopic))
}

func TestGetOnNil(t *testing.T) {
	var md Metadata
	assert.Equal(t, "", md.Get(KeyTopic))
	assert.NotNil(t, md.Clone())
}

func TestWatermillConversions(t *testing.T) {
	wm := message.Metadata{KeyRecordKey: "40380"}
	md := FromWatermill(wm)
	md[KeyTopic] = "TURNSTILE_SUMMARY"

	assert.NotContains(t, wm, KeyTopic, "conversion must copy")
	back := ToWatermill(md)
	assert.Equal(t, "40380", back.Get(KeyRecordKey))
	assert.Equal(t, "TURNSTILE_SUMMARY", back.Get(KeyTopic))
	assert.Empty(t, FromWatermill(nil))
}
