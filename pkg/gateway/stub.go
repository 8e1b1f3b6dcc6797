package gateway

import (
	"context"
	"time"
)

// StubProvider is a no-network provider for development and tests. It
// implements both FiatProvider and CryptoProvider.
type StubProvider struct {
	Verifier *HMACVerifier
	State    string // state reported by VerifyStatus/PaymentStatus; defaults to OK
}

func NewStubProvider(secret string) *StubProvider {
	return &StubProvider{Verifier: NewHMACVerifier(secret), State: StateOK}
}

func (s *StubProvider) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	return &Intent{
		ProviderRef: req.OrderRef,
		RedirectURL: "https://stub.gateway/pay/" + req.OrderRef,
		ExpiresAt:   time.Now().Add(30 * time.Minute),
	}, nil
}

func (s *StubProvider) VerifyStatus(_ context.Context, providerRef string) (*Status, error) {
	return &Status{State: s.State, SettlementRef: "stub-" + providerRef}, nil
}

func (s *StubProvider) CreatePayment(_ context.Context, req CryptoIntentRequest) (*CryptoIntent, error) {
	return &CryptoIntent{
		PaymentID: req.OrderRef,
		PayURL:    "https://stub.gateway/crypto/" + req.OrderRef,
		Address:   "stub-address",
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil
}

func (s *StubProvider) PaymentStatus(_ context.Context, paymentID string) (*Status, error) {
	return &Status{State: s.State, TxHash: "stub-hash-" + paymentID}, nil
}

func (s *StubProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	return s.Verifier.VerifyWebhookSignature(body, signature)
}
