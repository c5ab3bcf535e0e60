// Package signature signs outbound relay payloads and verifies inbound ones
// with HMAC-SHA256, using the GitHub-style "sha256=<hex>" header format.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/zeebo/blake3"
)

// Header is the HTTP header carrying the signature in both directions.
const Header = "X-Hub-Signature-256"

const prefix = "sha256="

// ErrVerification is returned for every verification failure. The message is
// generic on purpose so callers can't leak which check failed.
var ErrVerification = errors.New("webhook verification failed")

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed with secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatHeader formats a hex digest as an X-Hub-Signature-256 value.
func FormatHeader(hexDigest string) string {
	return prefix + hexDigest
}

// SignHeader signs payload and returns the ready-to-send header value.
func SignHeader(payload []byte, secret string) string {
	return FormatHeader(Sign(payload, secret))
}

// Verify checks header against the HMAC of payload.
//
// An empty secret means signing is not enforced and always verifies.
// Otherwise the header must be "sha256=<hex>" or plain hex and match in
// constant time.
func Verify(payload []byte, secret, header string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return ErrVerification
	}

	actual, err := parseHeader(header)
	if err != nil {
		return ErrVerification
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return ErrVerification
	}
	return nil
}

// parseHeader extracts the raw digest bytes from "sha256=<hex>" or "<hex>".
func parseHeader(header string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), prefix))
}

// Fingerprint returns a short BLAKE3 digest of payload used to correlate the
// receipt of a payload with its forwarding log entries.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
