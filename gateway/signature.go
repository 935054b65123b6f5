package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// HMACVerifier checks a hex HMAC-SHA256 of the raw body sent in a header
type HMACVerifier struct {
	Gateway string
	Secret  string
	Header  string
}

// Sign returns the signature a sender would attach to payload
func (v HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the header signature against payload in constant time
func (v HMACVerifier) Verify(headers http.Header, payload []byte) error {
	if v.Secret == "" {
		return &VerificationError{Gateway: v.Gateway, Reason: "no webhook secret configured"}
	}
	got := headers.Get(v.Header)
	if got == "" {
		return &VerificationError{Gateway: v.Gateway, Reason: "missing " + v.Header + " header"}
	}
	if !hmac.Equal([]byte(got), []byte(v.Sign(payload))) {
		return &VerificationError{Gateway: v.Gateway, Reason: "signature mismatch"}
	}
	return nil
}
