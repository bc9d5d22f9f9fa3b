// Package resilience provides the retry and circuit-breaking primitives
// shared by the delivery and coordination layers: a bounded exponential
// backoff retryer that only re-runs errors classified transient, and a
// per-destination circuit breaker group with a strict single-trial
// half-open phase.
package resilience
