// Package twofactor implements the second factor: TOTP secrets with QR
// provisioning, and single-use backup codes.
//
// Backup codes are persisted only as digests bound to the account id, so a
// leaked digest list cannot be replayed against another account.
package twofactor
