package transport

// Capabilities describes what a source can do for the orchestrator.
type Capabilities struct {
	// Name is the registry name of the source.
	Name string

	// SupportsTopicListing means TopicExists and Topics reflect the broker,
	// so the readiness gate and pattern bindings are meaningful.
	SupportsTopicListing bool

	// SupportsOffsetReset means the earliest/latest offset policy is honoured.
	SupportsOffsetReset bool

	// SupportsOrdering means records of one partition arrive in order.
	SupportsOrdering bool

	// SupportsConsumerGroups means bindings may join a consumer group.
	SupportsConsumerGroups bool
}

// SupportsPatterns reports whether pattern bindings can be resolved.
func (c Capabilities) SupportsPatterns() bool {
	return c.SupportsTopicListing
}

var (
	// KafkaCapabilities for the Kafka source.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsTopicListing:   true,
		SupportsOffsetReset:    true,
		SupportsOrdering:       true,
		SupportsConsumerGroups: true,
	}

	// ChannelCapabilities for the in-memory source. Topics are whatever has
	// been declared or published; every subscriber replays history.
	ChannelCapabilities = Capabilities{
		Name:                 "channel",
		SupportsTopicListing: true,
		SupportsOrdering:     true,
	}
)
