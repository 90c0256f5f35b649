package metadata

// Metadata represents the headers carried alongside a record.
type Metadata map[string]string

// Keys the transports use to carry broker coordinates through Watermill
// message metadata.
const (
	KeyTopic         = "transitboard_topic"
	KeyRecordKey     = "transitboard_key"
	KeyPartition     = "transitboard_partition"
	KeyOffset        = "transitboard_offset"
	KeyTimestamp     = "transitboard_timestamp"
	KeyCorrelationID = "correlation_id"
)

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Get returns the value for key, or "" when missing or when m is nil.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
