// Package prometheus exposes goGuard engine metrics through
// prometheus/client_golang.
//
// [Collector] reads Engine.MetricsSnapshot on every scrape; nothing is
// registered globally. Mount [Handler] or register the Collector on your own
// registry.
package prometheus
