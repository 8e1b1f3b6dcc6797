package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payfeed/internal/domain"
	"payfeed/internal/models"
	"payfeed/internal/reconcile"
	"payfeed/pkg/gateway"
)

// webhookStore counts every read so tests can prove an unverified webhook
// never reaches the database.
type webhookStore struct {
	mu      sync.Mutex
	payment *models.CryptoPayment
	reads   int
	credits int
}

func (s *webhookStore) InTx(fn func(tx reconcile.Store) error) error { return fn(s) }

func (s *webhookStore) FiatByProviderRef(string) (*models.FiatPayment, error) {
	return nil, reconcile.ErrIntentNotFound
}
func (s *webhookStore) CompleteFiat(uint, string, time.Time) (int64, error) { return 0, nil }
func (s *webhookStore) FailFiat(uint) (int64, error)                        { return 0, nil }

func (s *webhookStore) CryptoByPaymentID(paymentID string) (*models.CryptoPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.payment == nil || s.payment.ProviderPaymentID != paymentID {
		return nil, reconcile.ErrIntentNotFound
	}
	cp := *s.payment
	return &cp, nil
}

func (s *webhookStore) CompleteCrypto(id uint, txHash string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment != nil && s.payment.ID == id && s.payment.Status == domain.PaymentStatusPending {
		s.payment.Status = domain.PaymentStatusCompleted
		s.payment.TransactionHash = txHash
		return 1, nil
	}
	return 0, nil
}

func (s *webhookStore) CloseCrypto(id uint, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment != nil && s.payment.ID == id && s.payment.Status == domain.PaymentStatusPending {
		s.payment.Status = status
		return 1, nil
	}
	return 0, nil
}

func (s *webhookStore) Credit(uint, int64, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits++
	return nil
}

func (s *webhookStore) Debit(uint, int64, string, string) error { return nil }

func webhookRouter(store *webhookStore, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewCryptoWebhookHandler(gateway.NewHMACVerifier(secret), reconcile.NewReconciler(store), nil)
	r := gin.New()
	r.POST("/webhook", h.Handle)
	return r
}

func postWebhook(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignatureBeforeAnyRead(t *testing.T) {
	store := &webhookStore{payment: &models.CryptoPayment{
		ID: 1, UserID: 3, ProviderPaymentID: "dep-1", Status: domain.PaymentStatusPending,
	}}
	r := webhookRouter(store, "secret")
	body := []byte(`{"merchant_deposit_id":"dep-1","status":"COMPLETED","transaction_hash":"0xabc"}`)

	w := postWebhook(r, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = postWebhook(r, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, 0, store.reads, "unverified webhooks must not touch the store")
	assert.Equal(t, domain.PaymentStatusPending, store.payment.Status)
}

func TestWebhookConfirmsSignedCompletion(t *testing.T) {
	store := &webhookStore{payment: &models.CryptoPayment{
		ID: 1, UserID: 3, ProviderPaymentID: "dep-1", AmountCrypto: 10,
		RateAtCreation: 65_000, Status: domain.PaymentStatusPending,
	}}
	r := webhookRouter(store, "secret")
	body := []byte(`{"merchant_deposit_id":"dep-1","status":"COMPLETED","transaction_hash":"0xabc"}`)
	sig := gateway.NewHMACVerifier("secret").Sign(body)

	w := postWebhook(r, body, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.PaymentStatusCompleted, store.payment.Status)
	assert.Equal(t, "0xabc", store.payment.TransactionHash)
	assert.Equal(t, 1, store.credits)

	// Replayed webhook: acked, but no second credit.
	w = postWebhook(r, body, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.credits)
}

func TestWebhookSignedFailureClosesWithoutCredit(t *testing.T) {
	store := &webhookStore{payment: &models.CryptoPayment{
		ID: 1, UserID: 3, ProviderPaymentID: "dep-1", Status: domain.PaymentStatusPending,
	}}
	r := webhookRouter(store, "secret")
	body := []byte(`{"merchant_deposit_id":"dep-1","status":"expired"}`)
	sig := gateway.NewHMACVerifier("secret").Sign(body)

	w := postWebhook(r, body, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.PaymentStatusExpired, store.payment.Status)
	assert.Equal(t, 0, store.credits)
}

func TestWebhookUnknownDeposit(t *testing.T) {
	store := &webhookStore{}
	r := webhookRouter(store, "secret")
	body := []byte(`{"merchant_deposit_id":"dep-nope","status":"COMPLETED"}`)
	sig := gateway.NewHMACVerifier("secret").Sign(body)

	w := postWebhook(r, body, sig)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookMalformedPayload(t *testing.T) {
	store := &webhookStore{}
	r := webhookRouter(store, "secret")
	body := []byte(`{"merchant_deposit_id":`)
	sig := gateway.NewHMACVerifier("secret").Sign(body)

	w := postWebhook(r, body, sig)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
