// Package transitboard serves a live CTA transit status page built from Kafka
// topics. Before anything consumes, a readiness gate verifies that the topics
// produced by the upstream KSQL and Faust jobs exist; a missing topic stops
// startup with an actionable remedy and nothing is subscribed or bound.
//
// Once the gate passes, Service starts one binding per configured source on a
// Watermill router. A binding reads a topic (or every topic matching a
// pattern) with its own offset policy and payload format (schema registry
// Avro, JSON or protobuf Struct) and feeds the records into a view model:
// Weather for the weather topic, Lines for stations, arrivals and turnstile
// counts. Bad records are logged, counted and skipped; they never stop a
// binding or its neighbours.
//
// The status server renders both models on GET /. Cancelling the context
// passed to Start drains in-flight records, shuts the listeners down and
// closes every binding.
//
// # Sources
//
//   - kafka: sarama cluster admin for topic metadata, watermill-kafka subscribers
//   - channel: in-memory Go channels for local runs and tests
//
// # Middleware
//
// The default chain acknowledges failed records, injects correlation IDs,
// logs records at debug level, opens an OpenTelemetry span per record, adds
// Prometheus router metrics and recovers panics. Custom middleware can be
// added via ServiceDependencies.Middlewares.
//
// # Record Hooks
//
// RecordHooks provide OnRecordStart, OnRecordDone and OnRecordSkipped
// callbacks for custom logging or metrics around every record.
package transitboard
