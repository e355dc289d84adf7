// Package rate decides whether an identity may attempt a security action.
//
// Two limiters share one policy table:
//
//   - AuditLimiter counts matching audit events in the sliding window
//     [now-window, now]. The audit log is the only state.
//   - RedisLimiter keeps fixed-window counters (INCR with EXPIRE NX in one
//     transaction) under the prefix "gg:rl:<action>:". It trades window
//     precision for O(1) checks on busy deployments.
//
// Events whose reason is "rate_limited" never count toward any window.
// Check followed by the write that counts is not atomic, so concurrent
// callers can overshoot a limit by the number of in-flight attempts.
package rate
