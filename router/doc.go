// Package router admits agents by card and delivers message envelopes to
// their inboxes.
//
// Delivery is per-recipient isolated: one unresolvable recipient fails
// with an UndeliverableError while the rest are still served, and the
// receipt shows exactly who got the message. Sends pass through the shared
// retry policy and a per-destination circuit breaker; expired messages are
// reported undelivered without any transmission attempt. A heartbeat
// monitor suppresses silent agents until they re-register.
package router
