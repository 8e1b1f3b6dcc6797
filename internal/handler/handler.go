package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"payfeed/pkg/gateway"
)

// gatewayError maps a provider failure onto an HTTP response. Timeouts and
// rate limits are retryable; everything else upstream is a bad gateway.
func gatewayError(c *gin.Context, err error) {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		switch ge.Kind {
		case gateway.KindTimeout, gateway.KindRateLimited:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable", "retryable": true})
			return
		}
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway error"})
}

func auditFields(c *gin.Context) (ip, userAgent string) {
	return c.ClientIP(), c.Request.UserAgent()
}
