package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Receivers recompute the HMAC-SHA256 of "<timestamp>.<body>" with the subscription
// secret and compare it to SignatureHeader.
const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Signature-Timestamp"
)

var (
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrStaleSignature = errors.New("webhook signature timestamp outside tolerance")
)

// Sign returns the lowercase hex signature of body sent at unix time ts.
func Sign(secret string, ts int64, body []byte) string {
	return hex.EncodeToString(sum(secret, ts, body))
}

// Verify checks a received signature. A zero tolerance skips the timestamp check.
func Verify(secret, timestamp string, body []byte, provided string, tolerance time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	b, err := hex.DecodeString(provided)
	if err != nil || !hmac.Equal(sum(secret, ts, body), b) {
		return ErrBadSignature
	}
	if tolerance > 0 {
		if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
			return ErrStaleSignature
		}
	}
	return nil
}

func sum(secret string, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(strconv.AppendInt(nil, ts, 10))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}
