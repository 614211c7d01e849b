// Package mattermost posts escalation notices to Mattermost incoming webhooks.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Cutover"
	escalationColor = "#d24b4e"

	// maxErrorBody bounds how much of a failed response ends up in an error.
	maxErrorBody = 512
)

// Webhook errors.
var (
	ErrNoWebhook       = errors.New("mattermost webhook is not configured")
	ErrWebhookRejected = errors.New("mattermost rejected the webhook call")
)

// Config holds Mattermost sender configuration.
// A notification target is either a webhook URL or a channel name posted
// through WebhookURL.
type Config struct {
	WebhookURL      string        // default incoming webhook
	DefaultUsername string        // username for display, default "Cutover"
	DefaultIconURL  string        // icon URL (optional)
	Timeout         time.Duration // request timeout
}

// Sender implements notifications.Sender over incoming webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Mattermost sender.
func NewSender(config Config) *Sender {
	if config.DefaultUsername == "" {
		config.DefaultUsername = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeMattermost
}

type attachment struct {
	Fallback string `json:"fallback"`
	Color    string `json:"color"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
}

type webhookPayload struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// Send posts the notification. Escalations with a subject are sent as a
// coloured attachment so they stand out in busy war-room channels.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	webhookURL, channel := s.route(notification.To)
	if webhookURL == "" {
		return notifications.NewNonRetryableError(ErrNoWebhook)
	}

	body, err := json.Marshal(s.payload(channel, notification))
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return err
	}
	slog.Debug("mattermost message sent", "webhook", redactWebhook(webhookURL), "channel", channel)
	return nil
}

func (s *Sender) payload(channel string, n notifications.Notification) webhookPayload {
	p := webhookPayload{
		Channel:  channel,
		Username: s.config.DefaultUsername,
		IconURL:  s.config.DefaultIconURL,
	}
	if n.Subject == "" {
		p.Text = n.Body
		return p
	}
	p.Attachments = []attachment{{
		Fallback: n.Subject,
		Color:    escalationColor,
		Title:    n.Subject,
		Text:     n.Body,
	}}
	return p
}

// route splits a target into the webhook to call and the channel override.
func (s *Sender) route(target string) (webhookURL, channel string) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, ""
	}
	return s.config.WebhookURL, strings.TrimPrefix(target, "#")
}

// checkResponse maps the webhook status. Rate limits and server errors are
// retried; anything else that is not 200 means the request itself is wrong.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := fmt.Errorf("%w: status %d: %s", ErrWebhookRejected, resp.StatusCode, strings.TrimSpace(string(body)))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return notifications.NewRetryableError(err)
	}
	return notifications.NewNonRetryableError(err)
}

// redactWebhook keeps scheme and host; the path carries the webhook secret.
func redactWebhook(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host + "/hooks/***"
}
