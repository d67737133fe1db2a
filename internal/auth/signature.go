// Package auth verifies that inbound CRM webhooks were signed with the shared
// secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Journea-Signature"
	TimestampHeader = "X-Journea-Timestamp"

	DefaultMaxSkew = 5 * time.Minute

	signaturePrefix = "sha256="
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside allowed window")
)

// Sign returns the header value for body delivered at timestamp (RFC 3339).
func Sign(secret []byte, timestamp string, body []byte) string {
	return signaturePrefix + sign(secret, timestamp, body)
}

// Verify checks signature against HMAC-SHA256(secret, timestamp + "\n" + body)
// and rejects timestamps further than maxSkew from now. The "sha256=" prefix
// on signature is optional.
func Verify(secret []byte, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return ErrInvalidSignature
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return ErrStaleTimestamp
	}

	got := strings.ToLower(strings.TrimPrefix(signature, signaturePrefix))
	expected := sign(secret, timestamp, body)
	if !hmac.Equal([]byte(got), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

func sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
