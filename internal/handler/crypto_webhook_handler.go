package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"payfeed/internal/domain"
	"payfeed/internal/models"
	"payfeed/internal/reconcile"
	"payfeed/internal/repository"
	"payfeed/pkg/gateway"
)

// CryptoWebhookHandler processes signed deposit notifications. The signature
// is verified over the exact raw bytes before anything touches the
// database; an unverified webhook causes no reads and no writes.
type CryptoWebhookHandler struct {
	verifier   gateway.WebhookVerifier
	reconciler *reconcile.Reconciler
	audit      *repository.AuditRepository
}

func NewCryptoWebhookHandler(verifier gateway.WebhookVerifier, rec *reconcile.Reconciler,
	audit *repository.AuditRepository) *CryptoWebhookHandler {
	return &CryptoWebhookHandler{verifier: verifier, reconciler: rec, audit: audit}
}

type cryptoWebhookPayload struct {
	MerchantDepositID string `json:"merchant_deposit_id"`
	Status            string `json:"status"`
	TransactionHash   string `json:"transaction_hash"`
}

func (h *CryptoWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !h.verifier.VerifyWebhookSignature(body, c.GetHeader("X-Signature")) {
		log.Printf("[Webhook] rejected crypto webhook with bad signature from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload cryptoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.MerchantDepositID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	switch gatewayStateOf(payload.Status) {
	case gateway.StateOK:
		var res *reconcile.CryptoSettlement
		res, err = h.reconciler.ConfirmCrypto(payload.MerchantDepositID, payload.TransactionHash)
		if err == nil && res.Credited && h.audit != nil {
			h.audit.Record(&models.AuditLog{
				Action: "crypto.settle", Resource: "crypto_payment",
				ResourceID: payload.MerchantDepositID, IP: c.ClientIP(),
			})
		}
	case gateway.StatePending:
		// Not terminal yet; ack and wait for the next notification.
	case gateway.StateExpired:
		_, err = h.reconciler.CloseCrypto(payload.MerchantDepositID, domain.PaymentStatusExpired)
	case gateway.StateCancelled:
		_, err = h.reconciler.CloseCrypto(payload.MerchantDepositID, domain.PaymentStatusCancelled)
	default:
		_, err = h.reconciler.CloseCrypto(payload.MerchantDepositID, domain.PaymentStatusFailed)
	}
	if errors.Is(err, reconcile.ErrIntentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown deposit"})
		return
	}
	if err != nil {
		log.Printf("[Webhook] reconcile failed for %s: %v", payload.MerchantDepositID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func gatewayStateOf(s string) string {
	switch s {
	case "COMPLETED", "completed", "SUCCESS", "success", "OK", "confirmed", "CONFIRMED":
		return gateway.StateOK
	case "PENDING", "pending", "detected", "DETECTED":
		return gateway.StatePending
	case "EXPIRED", "expired":
		return gateway.StateExpired
	case "CANCELLED", "cancelled", "canceled":
		return gateway.StateCancelled
	default:
		return gateway.StateFailed
	}
}
