package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature_ValidRoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	sig := Sign("whsec_test", body)

	require.NoError(t, VerifySignature("whsec_test", body, sig))
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	sig := Sign("whsec_other", body)

	assert.ErrorIs(t, VerifySignature("whsec_test", body, sig), ErrInvalidSignature)
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	sig := Sign("whsec_test", []byte(`{"amount":100}`))

	assert.ErrorIs(t, VerifySignature("whsec_test", []byte(`{"amount":999}`), sig), ErrInvalidSignature)
}

func TestVerifySignature_MissingSignature(t *testing.T) {
	assert.ErrorIs(t, VerifySignature("whsec_test", []byte(`{}`), ""), ErrInvalidSignature)
}
