// Package workflow orchestrates multi-agent pipeline runs. A Coordinator
// walks an ordered list of stages, creating one task per stage attempt,
// dispatching work orders through the router and threading each stage's
// artifact into the next. Workers are the agent side: a consume loop that
// executes capability handlers, stores results and reports terminal task
// states. Retry of failed or timed-out stages happens in the coordinator
// by creating fresh tasks, never by mutating terminal ones.
package workflow
