package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Provider status states, normalized across gateways.
const (
	StateOK        = "OK"
	StatePending   = "PENDING"
	StateFailed    = "FAILED"
	StateExpired   = "EXPIRED"
	StateCancelled = "CANCELLED"
)

var ErrAmountOutOfRange = errors.New("amount outside gateway bounds")

// Error kinds mirror the feed client's.
const (
	KindTimeout     = "timeout"
	KindRateLimited = "rate_limited"
	KindUpstream    = "upstream"
	KindMalformed   = "malformed"
)

// Error is the single error type returned for upstream gateway failures.
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("gateway %s %s: %v", e.Op, e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IntentRequest is a fiat payment creation request.
type IntentRequest struct {
	OrderRef    string
	AmountMinor int64
	Currency    string
	Description string
	CallbackURL string
}

// Intent is a created fiat payment at the provider.
type Intent struct {
	ProviderRef string
	RedirectURL string
	ExpiresAt   time.Time
}

// Status is a provider-side payment status report.
type Status struct {
	State         string
	SettlementRef string
	TxHash        string
}

// CryptoIntentRequest is a crypto deposit creation request.
type CryptoIntentRequest struct {
	OrderRef     string
	AmountCrypto float64
	Currency     string
	Description  string
	CallbackURL  string
}

// CryptoIntent is a created crypto deposit at the provider.
type CryptoIntent struct {
	PaymentID string
	PayURL    string
	Address   string
	ExpiresAt time.Time
}

// FiatProvider creates redirect-driven payments and answers status queries.
type FiatProvider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	VerifyStatus(ctx context.Context, providerRef string) (*Status, error)
}

// CryptoProvider creates crypto deposits; its webhooks must be verifiable.
type CryptoProvider interface {
	CreatePayment(ctx context.Context, req CryptoIntentRequest) (*CryptoIntent, error)
	PaymentStatus(ctx context.Context, paymentID string) (*Status, error)
	WebhookVerifier
}

// WebhookVerifier checks an inbound webhook signature against the exact raw
// request bytes, in constant time.
type WebhookVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// HMACVerifier is the default webhook verifier for providers without a
// custom signature scheme: hex(HMAC-SHA256(secret, rawBody)).
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) VerifyWebhookSignature(body []byte, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign computes the signature the verifier expects. Used by tests and the
// stub provider.
func (v *HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckAmountBounds validates an amount locally before any outbound call.
func CheckAmountBounds(amountMinor, minMinor, maxMinor int64) error {
	if amountMinor < minMinor || (maxMinor > 0 && amountMinor > maxMinor) {
		return ErrAmountOutOfRange
	}
	return nil
}
