package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "test-webhook-secret-1234567890"

func TestSignVerify_RoundTrip(t *testing.T) {
	body := []byte(`{"subscription":{"id":"sub-123"},"event":{}}`)
	timestamp := time.Now().Format(time.RFC3339)

	sig := Sign(testSecret, "msg-1", timestamp, body)
	assert.NoError(t, Verify(testSecret, "msg-1", timestamp, body, sig))
}

func TestSign_MatchesManualComputation(t *testing.T) {
	body := []byte("hello")
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("msg-1" + "2024-01-01T00:00:00Z" + "hello"))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	got := Sign(testSecret, "msg-1", "2024-01-01T00:00:00Z", body)
	assert.Equal(t, want, got)
}

func TestVerify_WrongSecret(t *testing.T) {
	body := []byte("payload")
	sig := Sign(testSecret, "msg-1", "ts", body)

	err := Verify("completely-different-secret!!!", "msg-1", "ts", body, sig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerify_TamperedParts(t *testing.T) {
	body := []byte("payload")
	sig := Sign(testSecret, "msg-1", "ts", body)

	testCases := []struct {
		name      string
		messageID string
		timestamp string
		body      []byte
	}{
		{"tampered body", "msg-1", "ts", []byte("payloae")},
		{"tampered message id", "msg-2", "ts", body},
		{"tampered timestamp", "msg-1", "ts2", body},
		{"swapped id and timestamp", "ts", "msg-1", body},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(testSecret, tc.messageID, tc.timestamp, tc.body, sig)
			assert.ErrorIs(t, err, ErrSignatureMismatch)
		})
	}
}

func TestVerify_MalformedSignatures(t *testing.T) {
	body := []byte("payload")

	testCases := []struct {
		name      string
		signature string
		want      error
	}{
		{"no prefix", "abcdef1234567890", ErrUnsupportedAlgorithm},
		{"wrong prefix", "md5=abcdef1234567890", ErrUnsupportedAlgorithm},
		{"empty", "", ErrUnsupportedAlgorithm},
		{"only prefix", "sha256=", ErrSignatureMismatch},
		{"invalid hex", "sha256=gggggg", ErrMalformedSignature},
		{"truncated", "sha256=abc", ErrMalformedSignature},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(testSecret, "msg-1", "ts", body, tc.signature)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFresh(t *testing.T) {
	now := time.Now()

	testCases := []struct {
		name      string
		timestamp time.Time
		want      bool
	}{
		{"exact time", now, true},
		{"1 second old", now.Add(-1 * time.Second), true},
		{"5 minutes old", now.Add(-5 * time.Minute), true},
		{"exactly 10 minutes old", now.Add(-10 * time.Minute), true},
		{"11 minutes old", now.Add(-11 * time.Minute), false},
		{"1 hour old", now.Add(-1 * time.Hour), false},
		{"1 second in future (clock skew)", now.Add(1 * time.Second), true},
		{"5 minutes in future", now.Add(5 * time.Minute), true},
		{"11 minutes in future", now.Add(11 * time.Minute), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Fresh(tc.timestamp, now, DefaultMaxAge))
		})
	}
}

func TestFresh_CustomWindow(t *testing.T) {
	now := time.Now()
	assert.True(t, Fresh(now.Add(-30*time.Second), now, time.Minute))
	assert.False(t, Fresh(now.Add(-90*time.Second), now, time.Minute))
}
