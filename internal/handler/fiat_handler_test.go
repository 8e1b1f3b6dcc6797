package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payfeed/config"
	"payfeed/internal/domain"
	"payfeed/internal/models"
	"payfeed/internal/reconcile"
	"payfeed/pkg/gateway"
)

// fiatStore backs both the handler's payment lookups and the reconciler's
// transactional store, so verify and poll run against one shared intent.
type fiatStore struct {
	mu      sync.Mutex
	payment *models.FiatPayment
	credits int
	txErr   error
}

func (s *fiatStore) InTx(fn func(tx reconcile.Store) error) error {
	if s.txErr != nil {
		return s.txErr
	}
	return fn(s)
}

func (s *fiatStore) FiatByProviderRef(ref string) (*models.FiatPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment == nil || s.payment.ProviderRef != ref {
		return nil, reconcile.ErrIntentNotFound
	}
	p := *s.payment
	return &p, nil
}

func (s *fiatStore) CompleteFiat(id uint, settlementRef string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment != nil && s.payment.ID == id && s.payment.Status == domain.PaymentStatusPending {
		s.payment.Status = domain.PaymentStatusCompleted
		s.payment.SettlementRef = settlementRef
		s.payment.CompletedAt = &at
		return 1, nil
	}
	return 0, nil
}

func (s *fiatStore) FailFiat(id uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment != nil && s.payment.ID == id && s.payment.Status == domain.PaymentStatusPending {
		s.payment.Status = domain.PaymentStatusFailed
		return 1, nil
	}
	return 0, nil
}

func (s *fiatStore) CryptoByPaymentID(string) (*models.CryptoPayment, error) {
	return nil, reconcile.ErrIntentNotFound
}
func (s *fiatStore) CompleteCrypto(uint, string, time.Time) (int64, error) { return 0, nil }
func (s *fiatStore) CloseCrypto(uint, string) (int64, error)               { return 0, nil }

func (s *fiatStore) Credit(uint, int64, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits++
	return nil
}

func (s *fiatStore) Debit(uint, int64, string, string) error { return nil }

func (s *fiatStore) Create(p *models.FiatPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payment = &cp
	return nil
}

func (s *fiatStore) GetByProviderRef(ref string) (*models.FiatPayment, error) {
	return s.FiatByProviderRef(ref)
}

func (s *fiatStore) ListByUser(userID uint, _ int) ([]models.FiatPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment == nil || s.payment.UserID != userID {
		return nil, nil
	}
	return []models.FiatPayment{*s.payment}, nil
}

func pendingFiatPayment() *models.FiatPayment {
	return &models.FiatPayment{
		ID: 1, UserID: 7, ProviderRef: "ref-1",
		AmountMinor: 2_000_000, Currency: "KES",
		Status: domain.PaymentStatusPending,
	}
}

func fiatRouter(store *fiatStore, provider *gateway.StubProvider, cfg config.FiatGatewayConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewFiatHandler(provider, store, reconcile.NewReconciler(store), nil, cfg)
	r := gin.New()
	r.GET("/verify", h.Verify)
	r.GET("/payments/:ref", func(c *gin.Context) {
		c.Set("userID", uint(7))
		h.Status(c)
	})
	return r
}

type verifyResp struct {
	ProviderRef   string `json:"provider_ref"`
	Status        string `json:"status"`
	SettlementRef string `json:"settlement_ref"`
	AmountMinor   int64  `json:"amount_minor"`
}

func getVerify(t *testing.T, r *gin.Engine, ref string) verifyResp {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/verify?ref="+ref, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp verifyResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestVerifyRepeatedReturnsIdenticalSettlement(t *testing.T) {
	store := &fiatStore{payment: pendingFiatPayment()}
	r := fiatRouter(store, gateway.NewStubProvider("secret"), config.FiatGatewayConfig{})

	first := getVerify(t, r, "ref-1")
	assert.Equal(t, "success", first.Status)
	assert.Equal(t, "stub-ref-1", first.SettlementRef)
	assert.Equal(t, int64(2_000_000), first.AmountMinor)

	// The losing verify must return the stored settlement, not a bare status.
	second := getVerify(t, r, "ref-1")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.credits, "repeat verify must not credit again")
}

func TestVerifyRedirectCarriesSettlement(t *testing.T) {
	store := &fiatStore{payment: pendingFiatPayment()}
	cfg := config.FiatGatewayConfig{ResultURL: "https://shop.example/done"}
	r := fiatRouter(store, gateway.NewStubProvider("secret"), cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/verify?ref=ref-1", nil))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "ref-1", q.Get("ref"))
	assert.Equal(t, "success", q.Get("status"))
	assert.Equal(t, "stub-ref-1", q.Get("settlement_ref"))
	assert.Equal(t, "2000000", q.Get("amount_minor"))
}

func TestVerifyFailureReportsAmountWithoutCredit(t *testing.T) {
	store := &fiatStore{payment: pendingFiatPayment()}
	provider := gateway.NewStubProvider("secret")
	provider.State = gateway.StateFailed
	r := fiatRouter(store, provider, config.FiatGatewayConfig{})

	resp := getVerify(t, r, "ref-1")
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, int64(2_000_000), resp.AmountMinor)
	assert.Empty(t, resp.SettlementRef)
	assert.Equal(t, 0, store.credits)
}

func TestStatusPollSettlesPendingOnce(t *testing.T) {
	store := &fiatStore{payment: pendingFiatPayment()}
	r := fiatRouter(store, gateway.NewStubProvider("secret"), config.FiatGatewayConfig{})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/ref-1", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, domain.PaymentStatusCompleted, store.payment.Status)
	assert.Equal(t, "stub-ref-1", store.payment.SettlementRef)
	assert.Equal(t, 1, store.credits, "polling must credit at most once")
}

func TestStatusPollLogsReconcileFailure(t *testing.T) {
	store := &fiatStore{payment: pendingFiatPayment(), txErr: errors.New("deadlock")}
	r := fiatRouter(store, gateway.NewStubProvider("secret"), config.FiatGatewayConfig{})

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/ref-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, buf.String(), "poll settle failed for ref-1")
	assert.Equal(t, domain.PaymentStatusPending, store.payment.Status)
	assert.Equal(t, 0, store.credits)
}
