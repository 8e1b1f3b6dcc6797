package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Quote is one raw currency quote as returned by the market-data endpoint.
// Prices are in major units; sanitizing to minor units happens downstream.
type Quote struct {
	PriceLocal float64 `json:"price"`
	PriceUSD   float64 `json:"price_usd"`
}

// FetchError kinds. Callers branch on the single error type; the kind only
// drives logging and the retryable flag on operator responses.
const (
	KindTimeout     = "timeout"
	KindRateLimited = "rate_limited"
	KindUpstream    = "upstream"
	KindMalformed   = "malformed"
)

// FetchError is the only error type the feed client returns.
type FetchError struct {
	Kind string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("market feed %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AsFetchError returns the typed error if err is one.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Feed fetches quotes from the external market-data endpoint.
type Feed struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

func NewFeed(baseURL, apiKey string, timeout time.Duration) *Feed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Feed{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type feedResponse struct {
	Data map[string]Quote `json:"data"`
}

// FetchQuotes returns the full raw quote map or a *FetchError. There is no
// partial success: a half-parsed payload is malformed.
func (f *Feed) FetchQuotes(ctx context.Context) (map[string]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindUpstream, Err: err}
	}
	if f.APIKey != "" {
		req.Header.Set("X-Api-Key", f.APIKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		kind := KindUpstream
		if ctx.Err() != nil || isTimeout(err) {
			kind = KindTimeout
		}
		log.Printf("[Feed] fetch failed (%s): %v", kind, err)
		return nil, &FetchError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Printf("[Feed] rate limited by upstream")
		return nil, &FetchError{Kind: KindRateLimited, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		log.Printf("[Feed] upstream status=%d body=%s", resp.StatusCode, truncate(body, 256))
		return nil, &FetchError{Kind: KindUpstream, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out feedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		log.Printf("[Feed] malformed payload: %v body=%s", err, truncate(body, 256))
		return nil, &FetchError{Kind: KindMalformed, Err: err}
	}
	if len(out.Data) == 0 {
		log.Printf("[Feed] empty quote map in payload")
		return nil, &FetchError{Kind: KindMalformed, Err: errors.New("empty quote map")}
	}
	return out.Data, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
