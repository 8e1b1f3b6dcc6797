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
	"strconv"
	"time"
)

// FiatHTTPProvider talks to the card gateway (login-token API). Payments are
// redirect-driven: the shopper is sent to RedirectURL and comes back to our
// verify endpoint.
type FiatHTTPProvider struct {
	BaseURL  string
	Email    string
	Password string
	client   *http.Client
}

func NewFiatHTTPProvider(baseURL, email, password string, timeout time.Duration) *FiatHTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FiatHTTPProvider{
		BaseURL:  baseURL,
		Email:    email,
		Password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

type gatewayLoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type gatewayLoginResp struct {
	Token string `json:"token"`
}

// getToken authenticates and returns a fresh token (per transaction as the
// gateway recommends).
func (p *FiatHTTPProvider) getToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(gatewayLoginReq{Email: p.Email, Password: p.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/v1/merchants/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %d", resp.StatusCode)
	}
	var out gatewayLoginResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login returned empty token")
	}
	return out.Token, nil
}

type fiatCreateReq struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	CallbackURL string `json:"callback_url"`
	OrderID     string `json:"order_id"`
}

type fiatCreateResp struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
	ExpiresAt   string `json:"expires_at"`
}

func (p *FiatHTTPProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, p.wrap("create", err)
	}
	payload := fiatCreateReq{
		Amount:      strconv.FormatInt(req.AmountMinor/100, 10),
		Currency:    req.Currency,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		OrderID:     req.OrderRef,
	}
	body, _ := json.Marshal(payload)
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/v1/transactions/card", bytes.NewReader(body))
	if err != nil {
		return nil, p.wrap("create", err)
	}
	apiReq.Header.Set("Content-Type", "application/json")
	apiReq.Header.Set("Authorization", "Bearer "+token)
	log.Printf("[FiatGW] POST %s/transactions/card order_id=%s amount_minor=%d", p.BaseURL, req.OrderRef, req.AmountMinor)
	resp, err := p.client.Do(apiReq)
	if err != nil {
		return nil, p.wrap("create", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("[FiatGW] create response status=%d body=%s", resp.StatusCode, string(respBody))
		return nil, p.status("create", resp.StatusCode)
	}
	var out fiatCreateResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Kind: KindMalformed, Op: "create", Err: err}
	}
	expiresAt, _ := time.Parse(time.RFC3339, out.ExpiresAt)
	providerRef := out.OrderID
	if providerRef == "" {
		providerRef = req.OrderRef
	}
	return &Intent{ProviderRef: providerRef, RedirectURL: out.RedirectURL, ExpiresAt: expiresAt}, nil
}

type fiatStatusResp struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	ReceiptNumber string `json:"receipt_number"`
}

func (p *FiatHTTPProvider) VerifyStatus(ctx context.Context, providerRef string) (*Status, error) {
	token, err := p.getToken(ctx)
	if err != nil {
		return nil, p.wrap("verify", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/v1/transactions/"+providerRef, nil)
	if err != nil {
		return nil, p.wrap("verify", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.wrap("verify", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("[FiatGW] verify status=%d order_id=%s body=%s", resp.StatusCode, providerRef, string(respBody))
		return nil, p.status("verify", resp.StatusCode)
	}
	var out fiatStatusResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Kind: KindMalformed, Op: "verify", Err: err}
	}
	return &Status{State: normalizeState(out.Status), SettlementRef: out.ReceiptNumber}, nil
}

func (p *FiatHTTPProvider) wrap(op string, err error) error {
	kind := KindUpstream
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (p *FiatHTTPProvider) status(op string, code int) error {
	kind := KindUpstream
	if code == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("status %d", code)}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// normalizeState maps provider status strings onto our states.
func normalizeState(s string) string {
	switch s {
	case "COMPLETED", "completed", "SUCCESS", "success", "OK":
		return StateOK
	case "PENDING", "pending", "PROCESSING", "processing":
		return StatePending
	case "EXPIRED", "expired":
		return StateExpired
	case "CANCELLED", "cancelled", "canceled":
		return StateCancelled
	default:
		return StateFailed
	}
}
