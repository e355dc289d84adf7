// Package otel publishes goGuard engine metrics as OpenTelemetry observable
// instruments.
//
// Counters map onto Int64ObservableCounter. Each latency histogram becomes
// a "_bucket" gauge carrying an "le" attribute and a "_count" gauge. The
// caller owns the MeterProvider.
package otel
