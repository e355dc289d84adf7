// Package store defines the persistence contract consumed by goGuard: the
// Account record, the append-only AuditEvent record, and the two store
// interfaces the Engine talks to.
//
// # Backends
//
//   - store/memstore: mutex-guarded maps, used by tests and single-process tools.
//   - store/sqlstore: database/sql backend for SQLite (modernc.org/sqlite) and
//     PostgreSQL (pgx stdlib driver) with embedded migrations.
//   - store/gormstore: GORM backend for PostgreSQL.
//
// # Concurrency contract
//
// UpdateAccount is a conditional write keyed on Account.Version. ConsumeToken
// is an atomic find-and-clear: the token pair is cleared in the same write as
// the mutation it authorizes, and a concurrent second consumer observes
// ErrNotFound.
//
// # What this package must NOT do
//
//   - Import goGuard or any internal package.
//   - Hash, compare or generate secrets; callers hand in digests.
package store
