package twofactor

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrNoSecret is returned when validating against an account without a
// TOTP secret.
var ErrNoSecret = errors.New("twofactor: no secret configured")

// Config controls TOTP generation and validation.
type Config struct {
	Issuer     string
	Period     uint
	Skew       uint
	Digits     int
	SecretSize uint
	QRSize     int
}

// DefaultConfig is SHA1, 6 digits, 30 second steps, one step of skew.
func DefaultConfig() Config {
	return Config{
		Issuer:     "goGuard",
		Period:     30,
		Skew:       1,
		Digits:     6,
		SecretSize: 20,
		QRSize:     256,
	}
}

// Setup is what a user needs to enroll an authenticator app.
type Setup struct {
	Secret string
	URI    string
	QRPNG  []byte
}

// TOTP issues and checks time-based codes.
type TOTP struct {
	cfg Config
}

func NewTOTP(cfg Config) *TOTP {
	return &TOTP{cfg: cfg}
}

func (t *TOTP) digits() otp.Digits {
	if t.cfg.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Generate creates a fresh secret for accountName along with its otpauth
// URI and a PNG QR code of that URI.
func (t *TOTP) Generate(accountName string) (*Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: accountName,
		Period:      t.cfg.Period,
		SecretSize:  t.cfg.SecretSize,
		Digits:      t.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	img, err := renderQR(key.URL(), t.cfg.QRSize)
	if err != nil {
		return nil, err
	}
	return &Setup{Secret: key.Secret(), URI: key.URL(), QRPNG: img}, nil
}

// Validate reports whether code is valid for secret at the given instant,
// allowing Skew steps either side.
func (t *TOTP) Validate(secret, code string, at time.Time) (bool, error) {
	if secret == "" {
		return false, ErrNoSecret
	}
	code = strings.TrimSpace(code)
	if len(code) != t.digits().Length() {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    t.cfg.Period,
		Skew:      t.cfg.Skew,
		Digits:    t.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	return ok, err
}

// Code returns the current code for secret. Used by tests and tooling.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    t.cfg.Period,
		Digits:    t.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
}

func renderQR(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, err
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
