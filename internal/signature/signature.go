// Package signature implements HMAC-SHA256 signing and verification for
// EventSub webhook messages, including the timestamp freshness check that
// guards against replayed requests.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Prefix is the only signature algorithm the provider sends.
const Prefix = "sha256="

// DefaultMaxAge is the default replay window. Messages whose timestamp is
// further than this from the local clock are rejected even if the signature
// itself is valid.
const DefaultMaxAge = 10 * time.Minute

var (
	// ErrUnsupportedAlgorithm means the signature header did not carry the
	// sha256= prefix.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")

	// ErrSignatureMismatch means the recomputed HMAC did not match.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrMalformedSignature means the signature was not valid hex.
	ErrMalformedSignature = errors.New("malformed signature")
)

// Sign computes the signature the provider would attach to a message.
// The HMAC covers the exact concatenation of message ID, timestamp and raw
// body; reordering or altering any of the three yields a different digest.
func Sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC for the given message parts and compares it
// against the presented signature in constant time.
func Verify(secret, messageID, timestamp string, body []byte, presented string) error {
	encoded, ok := strings.CutPrefix(presented, Prefix)
	if !ok {
		return ErrUnsupportedAlgorithm
	}

	presentedMAC, err := hex.DecodeString(encoded)
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)

	if !hmac.Equal(presentedMAC, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Fresh reports whether a message timestamp is within maxAge of now.
// The window is symmetric: small clock skew into the future is tolerated,
// but timestamps further out than maxAge are rejected in both directions.
func Fresh(timestamp, now time.Time, maxAge time.Duration) bool {
	age := now.Sub(timestamp)
	if age < 0 {
		age = -age
	}
	return age <= maxAge
}
