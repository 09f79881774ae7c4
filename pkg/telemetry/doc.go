// Package telemetry exposes what the engine does on the wire.
//
// Metrics is a set of Prometheus collectors that plugs into a connection
// as its conn.Observer and into race.Sync as its Recorder:
//
//	m := telemetry.NewMetrics(telemetry.WithNamespace("lab"))
//	c, err := h2.Dial(ctx, d, target, h2.Options{Hooks: conn.Hooks{Observer: m}})
//
// Handler serves the collectors on /metrics next to /healthz and a JSON
// view of tracked connections' streams on /debug/streams. Tracing helpers
// wrap requests in OpenTelemetry client spans using the global provider.
package telemetry
