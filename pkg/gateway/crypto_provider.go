package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// CryptoHTTPProvider handles crypto deposits via the merchant API. Deposits
// are confirmed asynchronously through a signed webhook or by polling
// PaymentStatus.
type CryptoHTTPProvider struct {
	BaseURL  string
	Email    string
	Password string
	verifier *HMACVerifier
	client   *http.Client
}

func NewCryptoHTTPProvider(baseURL, email, password, webhookSecret string, timeout time.Duration) *CryptoHTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CryptoHTTPProvider{
		BaseURL:  baseURL,
		Email:    email,
		Password: password,
		verifier: NewHMACVerifier(webhookSecret),
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *CryptoHTTPProvider) getToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(gatewayLoginReq{Email: p.Email, Password: p.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/merchants/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %d %s", resp.StatusCode, string(respBody))
	}
	var out gatewayLoginResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login returned empty token")
	}
	return out.Token, nil
}

type cryptoCreateReq struct {
	ExpectedAmount float64 `json:"expected_amount"`
	Currency       string  `json:"currency"`
	WebhookURL     string  `json:"webhook_url"`
	Notes          string  `json:"notes"`
	DepositID      string  `json:"deposit_id"`
}

type cryptoCreateResp struct {
	DepositID         int     `json:"deposit_id"`
	MerchantDepositID string  `json:"merchant_deposit_id"`
	Status            string  `json:"status"`
	PageURL           string  `json:"page_url"`
	Address           string  `json:"address"`
	ExpectedAmount    float64 `json:"expected_amount"`
	ExpiresAt         string  `json:"expires_at"`
}

func (p *CryptoHTTPProvider) CreatePayment(ctx context.Context, req CryptoIntentRequest) (*CryptoIntent, error) {
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, p.wrap("create", err)
	}
	payload := cryptoCreateReq{
		ExpectedAmount: req.AmountCrypto,
		Currency:       req.Currency,
		WebhookURL:     req.CallbackURL,
		Notes:          req.Description,
		DepositID:      req.OrderRef,
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/merchants/deposit/initiate", bytes.NewReader(body))
	if err != nil {
		return nil, p.wrap("create", err)
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+token)
	log.Printf("[CryptoGW] POST %s/merchants/deposit/initiate deposit_id=%s amount=%.8f %s",
		p.BaseURL, req.OrderRef, req.AmountCrypto, req.Currency)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, p.wrap("create", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("[CryptoGW] create response status=%d body=%s", resp.StatusCode, string(respBody))
		return nil, p.status("create", resp.StatusCode)
	}
	var out cryptoCreateResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Kind: KindMalformed, Op: "create", Err: err}
	}
	paymentID := out.MerchantDepositID
	if paymentID == "" {
		paymentID = req.OrderRef
	}
	expiresAt, _ := time.Parse(time.RFC3339, out.ExpiresAt)
	return &CryptoIntent{PaymentID: paymentID, PayURL: out.PageURL, Address: out.Address, ExpiresAt: expiresAt}, nil
}

type cryptoStatusResp struct {
	MerchantDepositID string `json:"merchant_deposit_id"`
	Status            string `json:"status"`
	TransactionHash   string `json:"transaction_hash"`
}

func (p *CryptoHTTPProvider) PaymentStatus(ctx context.Context, paymentID string) (*Status, error) {
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, p.wrap("status", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/merchants/deposit/"+paymentID, nil)
	if err != nil {
		return nil, p.wrap("status", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.wrap("status", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("[CryptoGW] status query status=%d deposit_id=%s body=%s", resp.StatusCode, paymentID, string(respBody))
		return nil, p.status("status", resp.StatusCode)
	}
	var out cryptoStatusResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Kind: KindMalformed, Op: "status", Err: err}
	}
	return &Status{State: normalizeState(out.Status), TxHash: out.TransactionHash}, nil
}

// VerifyWebhookSignature uses the default HMAC scheme; this gateway has no
// provider-specific one.
func (p *CryptoHTTPProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	return p.verifier.VerifyWebhookSignature(body, signature)
}

func (p *CryptoHTTPProvider) wrap(op string, err error) error {
	kind := KindUpstream
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (p *CryptoHTTPProvider) status(op string, code int) error {
	kind := KindUpstream
	if code == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("status %d", code)}
}
