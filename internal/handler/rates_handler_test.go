package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payfeed/config"
	"payfeed/internal/models"
	"payfeed/internal/pricing"
	"payfeed/internal/service"
	"payfeed/pkg/market"
)

type downStore struct{}

func (downStore) SaveRates([]models.ExchangeRate, []models.RateHistoryPoint) error {
	return errors.New("db gone")
}
func (downStore) LatestRates() ([]models.ExchangeRate, error) { return nil, errors.New("db gone") }
func (downStore) History(string, time.Time) ([]models.RateHistoryPoint, error) {
	return nil, errors.New("db gone")
}

type downFeed struct{}

func (downFeed) FetchQuotes(context.Context) (map[string]market.Quote, error) {
	return nil, &market.FetchError{Kind: market.KindTimeout, Err: errors.New("deadline")}
}

func ratesRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.PricingConfig{
		Currencies:       []string{"USDT", "BTC"},
		PrimaryCurrency:  "USDT",
		CacheTTL:         time.Minute,
		RefreshInterval:  time.Hour,
		FetchTimeout:     time.Second,
		WarnThreshold:    3,
		DisableThreshold: 5,
	}
	svc := pricing.NewService(downStore{}, downFeed{}, cfg, nil)
	sched := pricing.NewScheduler(svc, service.LogAlertSink{}, cfg)
	h := NewRatesHandler(svc, sched)

	r := gin.New()
	r.GET("/rates", h.Current)
	r.POST("/rates/refresh", h.Refresh)
	r.POST("/rates/scheduler/restart", h.RestartScheduler)
	return r
}

func TestRatesEndpointNeverFails(t *testing.T) {
	r := ratesRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rates", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rates map[string]int64 `json:"rates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rates, 2)
	for c, v := range resp.Rates {
		assert.Greater(t, v, int64(0), "rate for %s", c)
	}
}

func TestRefreshEndpointReports503OnFeedFailure(t *testing.T) {
	r := ratesRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rates/refresh", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp struct {
		Kind      string `json:"kind"`
		Retryable bool   `json:"retryable"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, market.KindTimeout, resp.Kind)
	assert.True(t, resp.Retryable)
}

func TestSchedulerRestartEndpoint(t *testing.T) {
	r := ratesRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rates/scheduler/restart", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Disabled bool `json:"disabled"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Disabled)
}
