// Package internal holds helpers private to goGuard: opaque token
// generation, digests, and random identifiers.
//
// # Sub-packages
//
//   - audit: event recording, dispatch and analytics queries
//   - identity: retrying gateway over the store
//   - lockout: pure lockout state machine
//   - httpapi: echo routes served by cmd/goguard-server
//   - observability: logrus and Sentry setup
//   - rate: sliding-window and Redis-backed rate limiters
//   - testpg: PostgreSQL containers for integration tests
//   - twofactor: TOTP and backup codes
//
// Nothing here appears in the public goGuard API.
package internal
