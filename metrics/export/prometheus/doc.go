// Package prometheus exposes marketauth engine metrics as a
// client_golang [prometheus.Collector].
//
// [NewCollector] reads [marketauth.Engine.MetricsSnapshot] on every scrape.
// Counter names are prefixed marketauth_ and end in _total; the single
// histogram is marketauth_verify_latency_seconds. Callers register the
// collector on a registry of their choice, or mount [Collector.Handler]
// which serves a private registry.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
