package service

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"payfeed/config"
)

// AlertSink delivers operational alerts. Delivery is best-effort; a lost
// alert must never take the caller down with it.
type AlertSink interface {
	Alert(event, message string)
}

// LogAlertSink writes alerts to the process log. Used when no webhook is
// configured and in tests.
type LogAlertSink struct{}

func (LogAlertSink) Alert(event, message string) {
	log.Printf("[Alert] %s: %s", event, message)
}

// WebhookAlertSink POSTs alerts as JSON to an ops webhook.
type WebhookAlertSink struct {
	url    string
	client *http.Client
}

// NewAlertSink picks the webhook sink when configured, otherwise logs.
func NewAlertSink(cfg config.AlertConfig) AlertSink {
	if cfg.WebhookURL == "" {
		return LogAlertSink{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAlertSink{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
	}
}

type alertPayload struct {
	Event   string    `json:"event"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (s *WebhookAlertSink) Alert(event, message string) {
	body, _ := json.Marshal(alertPayload{Event: event, Message: message, At: time.Now().UTC()})
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Alert] delivery failed for %s: %v", event, err)
		return
	}
	resp.Body.Close()
	log.Printf("[Alert] sent %s (status %d)", event, resp.StatusCode)
}
