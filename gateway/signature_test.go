package gateway

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACVerifier(t *testing.T) {
	v := HMACVerifier{Gateway: "example", Secret: "whsec", Header: "X-Signature"}
	payload := []byte(`{"transaction_id":"txn_abc123","event":"payment.captured"}`)

	headers := http.Header{}
	headers.Set("X-Signature", v.Sign(payload))
	assert.NoError(t, v.Verify(headers, payload))

	tampered := append([]byte{}, payload...)
	tampered[5] = 'X'
	err := v.Verify(headers, tampered)
	var verr *VerificationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "signature mismatch", verr.Reason)

	assert.ErrorContains(t, v.Verify(http.Header{}, payload), "missing X-Signature header")
	assert.ErrorContains(t, HMACVerifier{Gateway: "example", Header: "X-Signature"}.Verify(headers, payload), "no webhook secret")
}
