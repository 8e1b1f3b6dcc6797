package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACVerifierAcceptsValidSignature(t *testing.T) {
	v := NewHMACVerifier("webhook-secret")
	body := []byte(`{"merchant_deposit_id":"dep-1","status":"COMPLETED"}`)
	assert.True(t, v.VerifyWebhookSignature(body, v.Sign(body)))
}

func TestHMACVerifierRejectsTamperedBody(t *testing.T) {
	v := NewHMACVerifier("webhook-secret")
	sig := v.Sign([]byte(`{"amount":100}`))
	assert.False(t, v.VerifyWebhookSignature([]byte(`{"amount":999}`), sig))
}

func TestHMACVerifierRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"merchant_deposit_id":"dep-1"}`)
	sig := NewHMACVerifier("other-secret").Sign(body)
	assert.False(t, NewHMACVerifier("webhook-secret").VerifyWebhookSignature(body, sig))
}

func TestHMACVerifierRejectsMissingSignature(t *testing.T) {
	v := NewHMACVerifier("webhook-secret")
	assert.False(t, v.VerifyWebhookSignature([]byte(`{}`), ""))
}

func TestHMACVerifierRejectsWhenNoSecretConfigured(t *testing.T) {
	v := NewHMACVerifier("")
	body := []byte(`{}`)
	// An empty secret must fail closed, even against a matching digest.
	assert.False(t, v.VerifyWebhookSignature(body, v.Sign(body)))
}

func TestCheckAmountBounds(t *testing.T) {
	assert.NoError(t, CheckAmountBounds(5_000, 100, 1_000_000))
	assert.ErrorIs(t, CheckAmountBounds(50, 100, 1_000_000), ErrAmountOutOfRange)
	assert.ErrorIs(t, CheckAmountBounds(2_000_000, 100, 1_000_000), ErrAmountOutOfRange)
	// No upper bound configured.
	assert.NoError(t, CheckAmountBounds(2_000_000, 100, 0))
}
