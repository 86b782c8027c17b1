package webhook

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignatureVerifyRoundTrip(t *testing.T) {
	scheme := NewSignatureScheme(StaticSecret("secret"))
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	timestamp := now.Format(time.RFC3339)
	body := []byte(`{"webhook_id": "wh_1"}`)

	signature := scheme.Sign(body, timestamp)
	if err := scheme.Verify(body, signature, timestamp, now); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	// Hex case must not matter.
	if err := scheme.Verify(body, strings.ToUpper(signature), timestamp, now); err != nil {
		t.Fatalf("verify uppercase failed: %v", err)
	}
}

func TestSignatureVerifyRejectsWrongSecret(t *testing.T) {
	scheme := NewSignatureScheme(StaticSecret("secret"))
	other := NewSignatureScheme(StaticSecret("other"))
	now := time.Now()
	timestamp := now.UTC().Format(time.RFC3339)
	body := []byte("payload")

	err := scheme.Verify(body, other.Sign(body, timestamp), timestamp, now)
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestSignatureVerifyEnforcesSkewWindow(t *testing.T) {
	scheme := NewSignatureScheme(StaticSecret("secret"))
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	body := []byte("payload")

	for _, offset := range []time.Duration{-6 * time.Minute, 6 * time.Minute} {
		timestamp := now.Add(offset).Format(time.RFC3339)
		err := scheme.Verify(body, scheme.Sign(body, timestamp), timestamp, now)
		if !errors.Is(err, ErrReplay) {
			t.Fatalf("offset %s: expected ErrReplay, got %v", offset, err)
		}
	}
	timestamp := now.Add(-4 * time.Minute).Format(time.RFC3339)
	if err := scheme.Verify(body, scheme.Sign(body, timestamp), timestamp, now); err != nil {
		t.Fatalf("within window: %v", err)
	}
}

func TestSignatureVerifyRejectsGarbageTimestamp(t *testing.T) {
	scheme := NewSignatureScheme(StaticSecret("secret"))
	body := []byte("payload")
	err := scheme.Verify(body, scheme.Sign(body, "yesterday"), "yesterday", time.Now())
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
}

func TestSignatureSchemeWithoutTimestampBinding(t *testing.T) {
	scheme := NewSignatureScheme(StaticSecret("secret"))
	scheme.IncludeTimestamp = false
	now := time.Now()
	timestamp := now.UTC().Format(time.RFC3339)
	body := []byte("payload")

	signature := scheme.Sign(body, timestamp)
	if err := scheme.Verify(body, signature, timestamp, now); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	// With binding disabled the signature is independent of the timestamp.
	if signature != scheme.Sign(body, "other") {
		t.Fatalf("signature should not depend on timestamp when binding is off")
	}
}
