// Package task tracks units of work through the CREATED → RUNNING →
// {COMPLETED, FAILED, CANCELLED, TIMEOUT} lifecycle.
//
// The manager is the sole owner of task records; everything else sees read
// snapshots. Assignment claims an idle agent through the session manager's
// gate, completion pins an artifact reference, and a background sweep
// expires overdue tasks and purges terminal ones after the retention
// window. Cancellation is cooperative: the task transitions immediately
// and the assigned agent observes a closed channel.
package task
