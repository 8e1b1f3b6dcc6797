package ws

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"payfeed/config"
	"payfeed/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeRatesWS authenticates via the token query param (browsers cannot
// set headers on websocket dials), upgrades, and subscribes the client to
// the rate stream, replaying the latest snapshot first.
func UpgradeRatesWS(cfg *config.JWTConfig, hub *RateHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		if _, err := auth.ParseAccessToken(cfg, token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] upgrade failed: %v", err)
			return
		}
		client := &Client{conn: conn, send: make(chan []byte, 16)}
		hub.register(client)
		if snap, ok := hub.snapshot(); ok {
			if data, err := json.Marshal(snap); err == nil {
				client.send <- data
			}
		}
		go client.writePump(hub.Hub)
		go client.readPump(hub.Hub)
	}
}
