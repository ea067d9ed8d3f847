package safety

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookTransportPostsAlertJSON(t *testing.T) {
	var got map[string]any
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewWebhookTransport(server.URL, time.Second)
	sent := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	err := transport.Send(AlertMessage{
		Severity:  SeverityWarning,
		Title:     "Rate limiting detected",
		Message:   "trailing_stop.rate_limited",
		Timestamp: sent,
		Context:   map[string]any{"symbol": "AAPL"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "WARNING", got["severity"])
	assert.Equal(t, "Rate limiting detected", got["title"])
	assert.Equal(t, "trailing_stop.rate_limited", got["message"])
	assert.Equal(t, sent.Format(time.RFC3339Nano), got["timestamp"])
	ctx, ok := got["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AAPL", ctx["symbol"])
}

func TestWebhookTransportSwallowsDeliveryFailures(t *testing.T) {
	t.Run("unreachable receiver", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		transport := NewWebhookTransport(server.URL, 100*time.Millisecond)
		assert.NoError(t, transport.Send(AlertMessage{Severity: SeverityInfo, Title: "t", Message: "m", Timestamp: time.Now()}))
	})

	t.Run("non-2xx status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		transport := NewWebhookTransport(server.URL, time.Second)
		assert.NoError(t, transport.Send(AlertMessage{Severity: SeverityCritical, Title: "t", Message: "m", Timestamp: time.Now()}))
	})
}

func TestMultiTransportFansOut(t *testing.T) {
	first := &captureTransport{}
	second := &captureTransport{}
	multi := MultiTransport{first, second}

	require.NoError(t, multi.Send(AlertMessage{Severity: SeverityInfo, Title: "t", Message: "m", Timestamp: time.Now()}))
	assert.Len(t, first.alerts, 1)
	assert.Len(t, second.alerts, 1)
}
