// Package session encodes and verifies signed session tokens.
//
// A token is a JWT (HS256 or Ed25519) carrying the account id (sub), the
// account email, the time the session was last checked against the
// account store (lv, unix seconds) and an invalid flag (inv). The codec
// only signs and verifies; deciding when to revalidate is the engine's job.
package session
