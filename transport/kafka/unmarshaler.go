package kafka

import (
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	metadatapkg "github.com/drblury/transitboard/internal/runtime/metadata"
)

// RecordUnmarshaler keeps Watermill's header handling and adds the Kafka
// coordinates (topic, key, partition, offset, timestamp) to the metadata so
// bindings can rebuild a full record.
type RecordUnmarshaler struct {
	kafka.DefaultMarshaler
}

func (u RecordUnmarshaler) Unmarshal(kafkaMsg *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := u.DefaultMarshaler.Unmarshal(kafkaMsg)
	if err != nil {
		return nil, err
	}
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata)
	}
	msg.Metadata.Set(metadatapkg.KeyTopic, kafkaMsg.Topic)
	if len(kafkaMsg.Key) > 0 {
		msg.Metadata.Set(metadatapkg.KeyRecordKey, string(kafkaMsg.Key))
	}
	msg.Metadata.Set(metadatapkg.KeyPartition, strconv.FormatInt(int64(kafkaMsg.Partition), 10))
	msg.Metadata.Set(metadatapkg.KeyOffset, strconv.FormatInt(kafkaMsg.Offset, 10))
	if !kafkaMsg.Timestamp.IsZero() {
		msg.Metadata.Set(metadatapkg.KeyTimestamp, kafkaMsg.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	return msg, nil
}
