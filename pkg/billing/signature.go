package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrBadSignature is returned when the Stripe-Signature header does
	// not verify against the webhook secret.
	ErrBadSignature = errors.New("billing: webhook signature verification failed")
	// ErrSignatureExpired is returned when the signed timestamp falls
	// outside the replay tolerance window.
	ErrSignatureExpired = errors.New("billing: webhook signature timestamp outside tolerance")
)

// DefaultTolerance is the replay window for signed webhook timestamps.
const DefaultTolerance = 5 * time.Minute

// VerifySignature checks a Stripe-Signature header against the raw
// request body. The header carries `t=<unix>,v1=<hex hmac>` pairs; the
// signed payload is "<t>.<body>" and the MAC is HMAC-SHA256 under the
// endpoint secret. Any one valid v1 signature passes (Stripe sends
// several during secret rotation).
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	return verifySignature(payload, header, secret, now, DefaultTolerance)
}

func verifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	var timestamp int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if timestamp == 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: missing timestamp or signature", ErrBadSignature)
	}

	signedAt := time.Unix(timestamp, 0)
	age := now.Sub(signedAt)
	if age < -tolerance || age > tolerance {
		return ErrSignatureExpired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrBadSignature
}
