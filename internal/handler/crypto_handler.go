package handler

import (
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payfeed/config"
	"payfeed/internal/domain"
	"payfeed/internal/middleware"
	"payfeed/internal/models"
	"payfeed/internal/pricing"
	"payfeed/internal/reconcile"
	"payfeed/internal/repository"
	"payfeed/pkg/gateway"
)

// CryptoHandler drives crypto deposits. The exchange rate is read once at
// initiation and frozen on the intent; every later settlement path credits
// from that frozen rate, never the live one.
type CryptoHandler struct {
	provider   gateway.CryptoProvider
	crypto     *repository.CryptoRepository
	pricing    *pricing.Service
	reconciler *reconcile.Reconciler
	audit      *repository.AuditRepository
	cfg        config.CryptoGatewayConfig
}

func NewCryptoHandler(provider gateway.CryptoProvider, crypto *repository.CryptoRepository,
	svc *pricing.Service, rec *reconcile.Reconciler, audit *repository.AuditRepository,
	cfg config.CryptoGatewayConfig) *CryptoHandler {
	return &CryptoHandler{provider: provider, crypto: crypto, pricing: svc, reconciler: rec, audit: audit, cfg: cfg}
}

type initiateCryptoReq struct {
	AmountCrypto float64 `json:"amount_crypto" binding:"required"`
	Currency     string  `json:"currency" binding:"required"`
	Description  string  `json:"description"`
}

func (h *CryptoHandler) Initiate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req initiateCryptoReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.AmountCrypto <= 0 || math.IsNaN(req.AmountCrypto) || math.IsInf(req.AmountCrypto, 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	currency := strings.ToUpper(req.Currency)

	rates, _ := h.pricing.CurrentRates()
	rate, supported := rates[currency]
	if !supported || rate <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported currency"})
		return
	}
	amountMinor := int64(math.Round(req.AmountCrypto * float64(rate)))

	orderRef := uuid.NewString()
	intent, err := h.provider.CreatePayment(c.Request.Context(), gateway.CryptoIntentRequest{
		OrderRef:     orderRef,
		AmountCrypto: req.AmountCrypto,
		Currency:     currency,
		Description:  req.Description,
		CallbackURL:  h.cfg.WebhookBaseURL + "/api/v1/webhooks/crypto",
	})
	if err != nil {
		gatewayError(c, err)
		return
	}

	payment := models.CryptoPayment{
		UserID:            userID,
		ProviderPaymentID: intent.PaymentID,
		AmountCrypto:      req.AmountCrypto,
		Currency:          currency,
		RateAtCreation:    rate,
		AmountMinor:       amountMinor,
		Status:            domain.PaymentStatusPending,
		PayURL:            intent.PayURL,
		Address:           intent.Address,
	}
	if err := h.crypto.Create(&payment); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record payment"})
		return
	}
	if h.audit != nil {
		ip, ua := auditFields(c)
		h.audit.Record(&models.AuditLog{
			UserID: &userID, Action: "crypto.initiate", Resource: "crypto_payment",
			ResourceID: intent.PaymentID, IP: ip, UserAgent: ua,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_id":                intent.PaymentID,
		"pay_url":                   intent.PayURL,
		"address":                   intent.Address,
		"amount_crypto":             req.AmountCrypto,
		"currency":                  currency,
		"amount_minor":              amountMinor,
		"exchange_rate_at_creation": rate,
	})
}

// Status polls one deposit. A PENDING intent triggers a provider re-check so
// a lost webhook cannot strand the payment.
func (h *CryptoHandler) Status(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	paymentID := c.Param("id")
	payment, err := h.crypto.GetByPaymentID(paymentID)
	if err != nil || payment.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}

	if payment.Status == domain.PaymentStatusPending {
		if st, perr := h.provider.PaymentStatus(c.Request.Context(), paymentID); perr == nil {
			var rerr error
			switch st.State {
			case gateway.StateOK:
				_, rerr = h.reconciler.ConfirmCrypto(paymentID, st.TxHash)
			case gateway.StatePending:
			case gateway.StateExpired:
				_, rerr = h.reconciler.CloseCrypto(paymentID, domain.PaymentStatusExpired)
			case gateway.StateCancelled:
				_, rerr = h.reconciler.CloseCrypto(paymentID, domain.PaymentStatusCancelled)
			default:
				_, rerr = h.reconciler.CloseCrypto(paymentID, domain.PaymentStatusFailed)
			}
			if rerr != nil {
				log.Printf("[Reconcile] poll reconcile failed for %s: %v", paymentID, rerr)
			}
			if p, gerr := h.crypto.GetByPaymentID(paymentID); gerr == nil {
				payment = p
			}
		}
	}

	c.JSON(http.StatusOK, cryptoPaymentView(payment))
}

// List returns the caller's crypto payments, newest first.
func (h *CryptoHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	rows, err := h.crypto.ListByUser(userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list payments"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, cryptoPaymentView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func cryptoPaymentView(p *models.CryptoPayment) gin.H {
	v := gin.H{
		"payment_id":                p.ProviderPaymentID,
		"amount_crypto":             p.AmountCrypto,
		"currency":                  p.Currency,
		"amount_minor":              p.AmountMinor,
		"exchange_rate_at_creation": p.RateAtCreation,
		"status":                    p.Status,
		"created_at":                p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.TransactionHash != "" {
		v["transaction_hash"] = p.TransactionHash
	}
	if p.ConfirmedAt != nil {
		v["confirmed_at"] = p.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	return v
}
