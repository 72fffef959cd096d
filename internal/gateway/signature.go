package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw callback
// body, computed with the webhook secret.
const SignatureHeader = "X-Gateway-Signature"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks the callback signature against the raw, unparsed
// body. It must run before any parsing or state mutation.
func VerifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
