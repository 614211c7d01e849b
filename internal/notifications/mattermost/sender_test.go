package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureServer(t *testing.T, status int, got *webhookPayload) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("response body"))
	}))
	t.Cleanup(server.Close)
	return server
}

func retryable(t *testing.T, err error) bool {
	t.Helper()
	var r *notifications.RetryableError
	require.ErrorAs(t, err, &r)
	return r.IsRetryable()
}

func TestNewSender_Defaults(t *testing.T) {
	sender := NewSender(Config{})

	assert.Equal(t, "Cutover", sender.config.DefaultUsername)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.Equal(t, domain.ChannelTypeMattermost, sender.Type())
}

func TestSender_Send_ChannelThroughConfiguredWebhook(t *testing.T) {
	var got webhookPayload
	server := captureServer(t, http.StatusOK, &got)

	sender := NewSender(Config{WebhookURL: server.URL, DefaultIconURL: "https://example.com/icon.png"})
	err := sender.Send(context.Background(), notifications.Notification{
		To:      "#cutover-war-room",
		Subject: "[P1 L2] INC-0001 Payments down",
		Body:    "Escalated",
	})

	require.NoError(t, err)
	assert.Equal(t, "cutover-war-room", got.Channel)
	assert.Empty(t, got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "[P1 L2] INC-0001 Payments down", got.Attachments[0].Title)
	assert.Equal(t, "[P1 L2] INC-0001 Payments down", got.Attachments[0].Fallback)
	assert.Equal(t, "Escalated", got.Attachments[0].Text)
	assert.Equal(t, escalationColor, got.Attachments[0].Color)
	assert.Equal(t, "Cutover", got.Username)
	assert.Equal(t, "https://example.com/icon.png", got.IconURL)
}

func TestSender_Send_TargetIsWebhook(t *testing.T) {
	var got webhookPayload
	server := captureServer(t, http.StatusOK, &got)

	sender := NewSender(Config{WebhookURL: "http://unused.invalid"})
	err := sender.Send(context.Background(), notifications.Notification{To: server.URL, Body: "plain"})

	require.NoError(t, err)
	assert.Empty(t, got.Channel)
	assert.Equal(t, "plain", got.Text)
	assert.Empty(t, got.Attachments)
}

func TestSender_Send_NoWebhook(t *testing.T) {
	sender := NewSender(Config{})
	err := sender.Send(context.Background(), notifications.Notification{To: "#ops", Body: "x"})

	assert.ErrorIs(t, err, ErrNoWebhook)
	assert.False(t, retryable(t, err))
}

func TestSender_Send_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
		{"not found", http.StatusNotFound, false},
		{"teapot", http.StatusTeapot, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := captureServer(t, tt.status, nil)
			sender := NewSender(Config{WebhookURL: server.URL})

			err := sender.Send(context.Background(), notifications.Notification{To: "ops", Body: "x"})

			assert.ErrorIs(t, err, ErrWebhookRejected)
			assert.Contains(t, err.Error(), "response body")
			assert.Equal(t, tt.retryable, retryable(t, err))
		})
	}
}

func TestSender_Send_NetworkErrorIsRetryable(t *testing.T) {
	sender := NewSender(Config{Timeout: 100 * time.Millisecond})

	err := sender.Send(context.Background(), notifications.Notification{
		To:   "http://localhost:59999",
		Body: "x",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
	assert.True(t, retryable(t, err))
}

func TestRedactWebhook(t *testing.T) {
	assert.Equal(t, "https://mm.example.com/hooks/***", redactWebhook("https://mm.example.com/hooks/abc123def456"))
	assert.Equal(t, "invalid-url", redactWebhook("not a url"))
}
