package webhooks

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	body := []byte(`{"type":"optimization.finished"}`)
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("s3cret", now.Unix(), body)

	if err := Verify("s3cret", ts, body, sig, time.Minute, now.Add(30*time.Second)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify("other", ts, body, sig, time.Minute, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong secret: %v", err)
	}
	if err := Verify("s3cret", ts, []byte(`{}`), sig, time.Minute, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered body: %v", err)
	}
	if err := Verify("s3cret", ts, body, sig, time.Minute, now.Add(2*time.Minute)); !errors.Is(err, ErrStaleSignature) {
		t.Fatalf("stale: %v", err)
	}
	if err := Verify("s3cret", "yesterday", body, sig, 0, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("bad timestamp: %v", err)
	}
}
