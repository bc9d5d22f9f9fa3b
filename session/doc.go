// Package session tracks orchestration sessions and the availability state
// of the agents enrolled in them. A session is an explicit handle created
// by the coordinator; it exclusively owns its agents' IDLE/BUSY/ERROR/
// RECOVERING records, and every status change is validated against the
// legal transition graph. Expiring a session cancels the running tasks of
// its agents and tombstones the id so later operations fail distinctly
// from operations on sessions that never existed.
package session
