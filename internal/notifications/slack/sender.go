// Package slack posts escalation notices through the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/notifications"
	"github.com/slack-go/slack"
)

// Config holds Slack sender configuration.
type Config struct {
	BotToken string
	// APIURL overrides the Web API base URL. Must end with a slash.
	APIURL string
}

// Sender implements notifications.Sender with chat.postMessage.
type Sender struct {
	client *slack.Client
}

// NewSender creates a new Slack sender.
func NewSender(config Config) *Sender {
	var opts []slack.Option
	if config.APIURL != "" {
		apiURL := config.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Sender{client: slack.New(config.BotToken, opts...)}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSlack
}

// Send posts the notification to the channel named by To.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	if notification.To == "" {
		return notifications.NewNonRetryableError(notifications.ErrNoTarget)
	}

	text := notification.Body
	if notification.Subject != "" {
		text = fmt.Sprintf("*%s*\n\n%s", notification.Subject, notification.Body)
	}

	channel, ts, err := s.client.PostMessageContext(ctx, notification.To,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return classify(fmt.Errorf("post message: %w", err))
	}

	slog.Debug("slack message sent", "channel", channel, "ts", ts)
	return nil
}

// classify marks rate limits, 5xx responses and transport failures as
// retryable. API errors such as channel_not_found are final.
func classify(err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return notifications.NewRetryableError(err)
	}

	var status slack.StatusCodeError
	if errors.As(err, &status) {
		if status.Retryable() {
			return notifications.NewRetryableError(err)
		}
		return notifications.NewNonRetryableError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return notifications.NewRetryableError(err)
	}

	return notifications.NewNonRetryableError(err)
}
