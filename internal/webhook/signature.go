package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrSignature = errors.New("webhook signature mismatch")
	ErrReplay    = errors.New("webhook outside freshness window")
)

// SecretProvider supplies the shared webhook secret per verification so a
// rotated secret takes effect without restart.
type SecretProvider func() string

func StaticSecret(secret string) SecretProvider {
	return func() string { return secret }
}

// SignatureScheme verifies inbound webhook authenticity. The exact scheme
// the upstream uses is provider-configurable, so header names and whether
// the timestamp participates in the signed string are options rather than
// constants.
type SignatureScheme struct {
	SignatureHeader string
	TimestampHeader string
	// IncludeTimestamp signs timestamp + "\n" + body instead of the bare
	// body.
	IncludeTimestamp bool
	MaxSkew          time.Duration
	Secret           SecretProvider
}

func NewSignatureScheme(secret SecretProvider) SignatureScheme {
	return SignatureScheme{
		SignatureHeader:  "X-Docket-Signature",
		TimestampHeader:  "X-Docket-Timestamp",
		IncludeTimestamp: true,
		MaxSkew:          5 * time.Minute,
		Secret:           secret,
	}
}

// Verify checks the hex HMAC-SHA256 signature in constant time and
// enforces the freshness window against the declared timestamp.
func (s SignatureScheme) Verify(body []byte, signature, timestamp string, now time.Time) error {
	signature = strings.TrimSpace(strings.ToLower(signature))
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" {
		return ErrSignature
	}
	if timestamp == "" {
		return ErrReplay
	}
	declared, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return ErrReplay
	}
	skew := s.MaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	delta := now.Sub(declared)
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return ErrReplay
	}

	secret := ""
	if s.Secret != nil {
		secret = s.Secret()
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if s.IncludeTimestamp {
		_, _ = mac.Write([]byte(timestamp))
		_, _ = mac.Write([]byte("\n"))
	}
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignature
	}
	return nil
}

// Sign produces the signature a sender would attach; used by tests and the
// enqueue CLI.
func (s SignatureScheme) Sign(body []byte, timestamp string) string {
	secret := ""
	if s.Secret != nil {
		secret = s.Secret()
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if s.IncludeTimestamp {
		_, _ = mac.Write([]byte(timestamp))
		_, _ = mac.Write([]byte("\n"))
	}
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
