// Package audit records security events and answers questions about them.
//
// # Components
//
//   - [Recorder]: fire-and-forget writes to a store.AuditStore. Write
//     failures are logged and reported, never returned.
//   - [Dispatcher]: optional buffered async relay in front of the Recorder,
//     with drop-if-full or block-if-full semantics.
//   - [Analytics]: search, aggregate stats, suspicious IPs and real-time
//     alerts computed from the stored events, plus retention cleanup.
//
// The engine decides which events to emit; this package does not filter
// or suppress events on business grounds.
package audit
