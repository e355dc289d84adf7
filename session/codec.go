package session

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

const minHMACKeyBytes = 32

// ErrInvalidToken covers bad signatures, malformed tokens and expiry.
var ErrInvalidToken = errors.New("session: invalid token")

// Config configures a Codec.
type Config struct {
	// TTL is the absolute lifetime of a session from first issue.
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// Session is the decoded content of a token.
type Session struct {
	ID            string
	AccountID     string
	Email         string
	LastValidated time.Time
	Invalid       bool
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

type claims struct {
	Email         string `json:"email"`
	LastValidated int64  `json:"lv"`
	Invalid       bool   `json:"inv,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens. It is safe for concurrent use.
type Codec struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewCodec validates cfg and parses keys.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("session leeway must be within [0, 2m]")
	}

	c := &Codec{cfg: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("hs256 requires a key of at least %d bytes", minHMACKeyBytes)
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = cfg.PrivateKey
		c.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodEdDSA
		c.signKey = priv
		c.verifyKey = priv.Public()
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			c.verifyKey = pub
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return c, nil
}

// Issue signs s. Zero IssuedAt/ExpiresAt are filled from now and TTL, so a
// re-signed session keeps its original lifetime.
func (c *Codec) Issue(s Session) (string, error) {
	now := time.Now()
	if s.IssuedAt.IsZero() {
		s.IssuedAt = now
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = s.IssuedAt.Add(c.cfg.TTL)
	}
	if s.LastValidated.IsZero() {
		s.LastValidated = now
	}

	cl := claims{
		Email:         s.Email,
		LastValidated: s.LastValidated.Unix(),
		Invalid:       s.Invalid,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.AccountID,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	if c.cfg.Audience != "" {
		cl.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}
	return jwt.NewWithClaims(c.method, cl).SignedString(c.signKey)
}

// Parse verifies the token and returns its session. Any failure is
// reported as ErrInvalidToken.
func (c *Codec) Parse(token string) (*Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(c.cfg.Leeway))
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.cfg.Audience))
	}

	var cl claims
	tok, err := jwt.NewParser(opts...).ParseWithClaims(token, &cl, func(t *jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || cl.Subject == "" {
		return nil, ErrInvalidToken
	}

	s := &Session{
		ID:            cl.ID,
		AccountID:     cl.Subject,
		Email:         cl.Email,
		LastValidated: time.Unix(cl.LastValidated, 0).UTC(),
		Invalid:       cl.Invalid,
	}
	if cl.IssuedAt != nil {
		s.IssuedAt = cl.IssuedAt.Time.UTC()
	}
	if cl.ExpiresAt != nil {
		s.ExpiresAt = cl.ExpiresAt.Time.UTC()
	}
	return s, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
