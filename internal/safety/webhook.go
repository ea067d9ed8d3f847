package safety

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pilot/internal/logger"
)

// WebhookTransport POSTs alerts as JSON to a central receiver. Delivery
// failures are logged and swallowed: alerting must never take down the
// pipeline that produced the alert.
type WebhookTransport struct {
	URL    string
	Client *http.Client
}

func NewWebhookTransport(url string, timeout time.Duration) *WebhookTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookTransport{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (w *WebhookTransport) Send(alert AlertMessage) error {
	body, err := json.Marshal(map[string]any{
		"severity":  alert.Severity,
		"title":     alert.Title,
		"message":   alert.Message,
		"timestamp": alert.Timestamp.Format(time.RFC3339Nano),
		"context":   alert.Context,
	})
	if err != nil {
		logger.Warnf("encode webhook alert: %v", err)
		return nil
	}
	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		logger.Warnf("webhook request for %s: %v", w.URL, err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		logger.Warnf("deliver alert to webhook %s: %v", w.URL, err)
		return nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		logger.Warnf("deliver alert to webhook %s: status=%d", w.URL, resp.StatusCode)
	}
	return nil
}

// MultiTransport fans one alert out to several transports.
type MultiTransport []Transport

func (m MultiTransport) Send(alert AlertMessage) error {
	var firstErr error
	for _, t := range m {
		if err := t.Send(alert); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport send: %w", err)
		}
	}
	return firstErr
}
