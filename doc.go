// Package goGuard is the account-security core: credential verification with
// progressive lockout, multi-window rate limiting, an append-only audit log
// with analytics, and single-use expiring tokens for password reset, email
// verification and magic-link sign-in, layered under optional two-factor
// authentication.
//
// An [Engine] is assembled with a [Builder]:
//
//	engine, err := goGuard.New().
//		WithConfig(cfg).
//		WithStore(sqlStore).
//		WithMailer(dispatcher).
//		WithLogger(logger).
//		Build()
//
// Request metadata travels on the context. Wrap request contexts with
// [WithClientIP] and [WithUserAgent] (or use middleware.RequestContext) so
// audit events and per-IP limits see the caller.
//
// Login outcomes are typed: [Engine.Login] returns a [LoginResult] whose
// status is one of the LoginStatus values, and only infrastructure failures
// surface as errors ([ErrUnavailable]). Every status maps to a generic
// message that does not reveal whether an account exists.
package goGuard
