package twofactor

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTOTPGenerateAndValidate(t *testing.T) {
	m := NewTOTP(DefaultConfig())
	setup, err := m.Generate("user@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("empty secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") || !strings.Contains(setup.URI, "issuer=goGuard") {
		t.Fatalf("unexpected URI %q", setup.URI)
	}
	if !bytes.HasPrefix(setup.QRPNG, []byte("\x89PNG")) {
		t.Fatal("QR code is not a PNG")
	}

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	code, err := m.Code(setup.Secret, now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	ok, err := m.Validate(setup.Secret, code, now)
	if err != nil || !ok {
		t.Fatalf("Validate(current) = %v, %v", ok, err)
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	m := NewTOTP(DefaultConfig())
	setup, err := m.Generate("skew@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	prev, _ := m.Code(setup.Secret, now.Add(-30*time.Second))
	if ok, _ := m.Validate(setup.Secret, prev, now); !ok {
		t.Fatal("previous step should validate")
	}
	next, _ := m.Code(setup.Secret, now.Add(30*time.Second))
	if ok, _ := m.Validate(setup.Secret, next, now); !ok {
		t.Fatal("next step should validate")
	}

	stale, _ := m.Code(setup.Secret, now.Add(-90*time.Second))
	current, _ := m.Code(setup.Secret, now)
	if stale != current && stale != prev && stale != next {
		if ok, _ := m.Validate(setup.Secret, stale, now); ok {
			t.Fatal("code three steps old must not validate")
		}
	}
}

func TestTOTPRejectsMalformedCode(t *testing.T) {
	m := NewTOTP(DefaultConfig())
	setup, _ := m.Generate("bad@example.com")
	for _, code := range []string{"", "12345", "1234567"} {
		ok, err := m.Validate(setup.Secret, code, time.Now())
		if err != nil || ok {
			t.Fatalf("Validate(%q) = %v, %v", code, ok, err)
		}
	}
	if _, err := m.Validate("", "123456", time.Now()); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes("acct-1")
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(codes.Plain) != 10 || len(codes.Digests) != 10 {
		t.Fatalf("got %d codes / %d digests, want 10", len(codes.Plain), len(codes.Digests))
	}
	seen := map[string]bool{}
	for i, c := range codes.Plain {
		if len(c) != BackupCodeLength+1 || c[5] != '-' {
			t.Fatalf("unexpected format %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
		if codes.Digests[i] != BackupCodeDigest("acct-1", c) {
			t.Fatalf("digest mismatch for %q", c)
		}
		if !LooksLikeBackupCode(c) {
			t.Fatalf("%q should look like a backup code", c)
		}
	}
	if LooksLikeBackupCode("123456") {
		t.Fatal("TOTP code mistaken for backup code")
	}
}

func TestRemoveBackupCodeIsSingleUse(t *testing.T) {
	codes, err := GenerateBackupCodes("acct-1")
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	used := codes.Plain[3]

	remaining, ok := RemoveBackupCode("acct-1", strings.ToLower(used), codes.Digests)
	if !ok {
		t.Fatal("expected code to be accepted")
	}
	if len(remaining) != 9 {
		t.Fatalf("remaining = %d, want 9", len(remaining))
	}
	for i, d := range remaining {
		want := codes.Digests[i]
		if i >= 3 {
			want = codes.Digests[i+1]
		}
		if d != want {
			t.Fatalf("remaining[%d] changed", i)
		}
	}

	if _, ok := RemoveBackupCode("acct-1", used, remaining); ok {
		t.Fatal("consumed code must not be accepted twice")
	}
	if _, ok := RemoveBackupCode("acct-2", codes.Plain[0], codes.Digests); ok {
		t.Fatal("codes are bound to their account")
	}
}
