// Package mail renders and delivers account-security emails: password
// reset, email verification and magic-link sign-in.
//
// Delivery goes through a [Dispatcher]. Implementations here cover pooled
// SMTP, one connection per message SMTP, a logging dispatcher for local
// development, and an in-memory outbox for tests.
package mail
