package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"payfeed/internal/pricing"
	"payfeed/pkg/market"
)

// RatesHandler serves the rate read path and the on-demand refresh surface.
type RatesHandler struct {
	pricing   *pricing.Service
	scheduler *pricing.Scheduler
}

func NewRatesHandler(svc *pricing.Service, sched *pricing.Scheduler) *RatesHandler {
	return &RatesHandler{pricing: svc, scheduler: sched}
}

// Current returns the rate for every supported currency. This endpoint
// cannot fail: worst case it serves hardcoded defaults with a zero
// updated_at.
func (h *RatesHandler) Current(c *gin.Context) {
	rates, at := h.pricing.CurrentRates()
	resp := gin.H{"rates": rates}
	if !at.IsZero() {
		resp["updated_at"] = at.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// History returns recent samples for one currency; errors degrade to an
// empty series.
func (h *RatesHandler) History(c *gin.Context) {
	currency := strings.ToUpper(c.Query("currency"))
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency is required"})
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	points := h.pricing.History(currency, days)
	c.JSON(http.StatusOK, gin.H{"currency": currency, "history": points})
}

// Refresh forces a refresh cycle, joining any in-flight one. Feed failures
// come back 503 retryable with the failure kind.
func (h *RatesHandler) Refresh(c *gin.Context) {
	set, err := h.scheduler.Refresh(c.Request.Context())
	if err != nil {
		if fe, ok := market.AsFetchError(err); ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":     "price feed unavailable",
				"kind":      fe.Kind,
				"retryable": true,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rates":      set.PriceMap(),
		"updated_at": set.FetchedAt.UTC().Format(time.RFC3339),
	})
}

// RestartScheduler clears the failure trip after manual intervention.
func (h *RatesHandler) RestartScheduler(c *gin.Context) {
	h.scheduler.Restart()
	c.JSON(http.StatusOK, gin.H{"status": "restarted", "disabled": h.scheduler.Disabled()})
}

// SchedulerStatus reports whether the periodic loop is running.
func (h *RatesHandler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"disabled": h.scheduler.Disabled()})
}
