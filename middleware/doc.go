// Package middleware adapts goGuard.Engine to net/http.
//
// # Handlers
//
//   - [RequestContext] records the caller IP and User-Agent on the request
//     context so the Engine can rate-limit per IP and fill audit events.
//   - [RequireSession] validates the session token from the Authorization
//     header or the session cookie and hands back re-signed tokens.
//
// Echo servers wrap both with echo.WrapMiddleware.
//
// # What this package must NOT do
//
//   - Parse or sign session tokens itself.
//   - Talk to a store; every decision goes through Engine.ValidateSession.
package middleware
