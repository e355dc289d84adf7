package twofactor

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/MrEthical07/goGuard/internal"
)

const (
	// BackupCodeCount is how many codes are issued per generation.
	BackupCodeCount = 10
	// BackupCodeLength is the number of characters per code, excluding the
	// display separator.
	BackupCodeLength = 10

	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// BackupCodes is one freshly generated set. Plain is shown once; Digests
// is what gets stored.
type BackupCodes struct {
	Plain   []string
	Digests []string
}

// GenerateBackupCodes returns BackupCodeCount new codes bound to accountID.
func GenerateBackupCodes(accountID string) (*BackupCodes, error) {
	out := &BackupCodes{
		Plain:   make([]string, 0, BackupCodeCount),
		Digests: make([]string, 0, BackupCodeCount),
	}
	seen := make(map[string]struct{}, BackupCodeCount)
	for len(out.Plain) < BackupCodeCount {
		raw, err := internal.RandomString(backupCodeAlphabet, BackupCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		out.Plain = append(out.Plain, FormatBackupCode(raw))
		out.Digests = append(out.Digests, BackupCodeDigest(accountID, raw))
	}
	return out, nil
}

// FormatBackupCode splits codes of eight or more characters with a dash.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode undoes display formatting and user typing noise.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// BackupCodeDigest is hex(sha256(accountID || 0x00 || canonical code)).
func BackupCodeDigest(accountID, code string) string {
	canonical := CanonicalizeBackupCode(code)
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LooksLikeBackupCode reports whether input has the shape of a backup code
// rather than a TOTP code.
func LooksLikeBackupCode(input string) bool {
	return len(CanonicalizeBackupCode(input)) == BackupCodeLength
}

// RemoveBackupCode returns digests without the entry matching code. ok is
// false if no entry matched, in which case digests is returned unchanged.
func RemoveBackupCode(accountID, code string, digests []string) (remaining []string, ok bool) {
	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		return digests, false
	}
	want := []byte(BackupCodeDigest(accountID, canonical))

	idx := -1
	for i, d := range digests {
		// Scan every entry so timing does not reveal the position.
		if subtle.ConstantTimeCompare([]byte(d), want) == 1 && idx < 0 {
			idx = i
		}
	}
	if idx < 0 {
		return digests, false
	}
	remaining = make([]string, 0, len(digests)-1)
	remaining = append(remaining, digests[:idx]...)
	remaining = append(remaining, digests[idx+1:]...)
	return remaining, true
}
