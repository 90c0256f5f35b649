/*
Package runtime runs the transit board: it checks that the upstream stream
processing jobs have produced their topics, consumes every configured binding
on a Watermill router and serves the status page until interrupted.

# Architecture Overview

A Service owns one source (Kafka or the in-memory channel source), the two
view models (Weather and Lines), one Binding per configured consumer and the
status server. Bindings share nothing but the view models they write to.

# Package Structure

## Core Service (service.go)

The Service struct is the lifecycle controller:
  - Readiness gate against the source's topic metadata
  - Pattern resolution and one router handler per bound topic
  - Status server and admin listeners
  - Ordered shutdown: router, listeners, bindings, source

## Bindings (binding.go, stats.go, hooks.go)

A Binding decodes each record (avro, json or protobuf), hands it to its view
model and always acknowledges. Failures are logged, counted in BindingStats
and reported to RecordHooks; they never reach the router.

## Middleware (middleware.go)

The default chain, outermost first:
  - Isolation: acknowledges anything that still failed
  - CorrelationID: tags each record with a ULID
  - LogMessages: debug logging of record metadata
  - Tracer: OpenTelemetry consumer span per record
  - Metrics: Watermill's Prometheus router metrics
  - Recoverer: converts panics into errors

## Admin (admin.go, resources.go)

When MetricsPort is set the admin listener serves /metrics and, with
WebUIEnabled, /api/bindings.

# Usage Example

	cfg := config.Default()
	svc, err := runtime.NewService(cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Start(ctx) // returns nil once ctx is cancelled
*/
package runtime
