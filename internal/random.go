package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
)

const opaqueTokenSize = 32

// ErrMalformedToken is returned for presented tokens that could never have
// been issued.
var ErrMalformedToken = errors.New("malformed token")

// OpaqueToken is a freshly issued single-use token. Plain goes to the user;
// only Digest is persisted.
type OpaqueToken struct {
	Plain  string
	Digest string
}

// NewOpaqueToken returns 32 random bytes, hex-encoded, with their digest.
func NewOpaqueToken() (OpaqueToken, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return OpaqueToken{}, err
	}
	plain := hex.EncodeToString(raw[:])
	return OpaqueToken{Plain: plain, Digest: DigestToken(plain)}, nil
}

// DigestToken is the storage form of a plain token.
func DigestToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// ParseOpaqueToken validates the shape of a presented token and returns its
// digest.
func ParseOpaqueToken(plain string) (string, error) {
	if len(plain) != opaqueTokenSize*2 {
		return "", ErrMalformedToken
	}
	if _, err := hex.DecodeString(plain); err != nil {
		return "", ErrMalformedToken
	}
	return DigestToken(plain), nil
}

// EqualDigest compares two digests in constant time.
func EqualDigest(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewSessionID returns a compact random identifier for a session token.
func NewSessionID() (string, error) {
	var sid [16]byte
	if _, err := rand.Read(sid[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sid[:]), nil
}

// RandomString draws n characters uniformly from alphabet.
func RandomString(alphabet string, n int) (string, error) {
	if alphabet == "" || n <= 0 {
		return "", errors.New("invalid random string request")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
