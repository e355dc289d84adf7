// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id encoded as PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from older systems in bcrypt format ($2a$, $2b$, $2y$)
// still verify, and [Hasher.NeedsRehash] reports them so the caller can
// replace them after the next successful login.
//
// This package does not store passwords, log them, or import any other
// package of this module.
package password
