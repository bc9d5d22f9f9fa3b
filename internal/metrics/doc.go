// Package metrics registers the mesh's Prometheus series through one
// Collector: routing outcomes and latency, task state transitions and
// lifetimes, artifact store traffic, breaker and retry activity, and
// agent registry health. All series are promauto-registered under a
// shared namespace; a nil Collector silently drops every record so
// callers never guard their instrumentation sites.
package metrics
