/*
Package types provides the shared type contracts of the riskmesh core.

It is the lowest-level public package and depends on nothing internal, so
the a2a, router, task, artifact, session, and workflow packages can share
one error taxonomy without import cycles.

Core types:

  - Error / ErrorCode: structured error body with a Retryable marker and
    an optional agent id
  - IsRetryable / GetErrorCode: classification helpers that unwrap
    wrapped error chains

The taxonomy groups codes the way callers must react to them: validation
errors are rejected synchronously and never retried, transient errors go
through the backoff policy, resource-state errors name the conflicting
state, and systemic errors (circuit open, session expired) are surfaced
immediately.
*/
package types
