package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DispatcherConfig contains delivery settings shared by every channel.
type DispatcherConfig struct {
	// RateLimit caps sends per second across channels. Zero means unlimited.
	RateLimit         float64
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// BreakerFailures opens a channel's breaker after this many consecutive
	// retryable failures.
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RateLimit:          5,
		MaxAttempts:        3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		BreakerFailures:    5,
		BreakerOpenTimeout: time.Minute,
	}
}

// Dispatcher sends rendered notifications through the sender of the
// channel type, with rate limiting, retries and a circuit breaker per channel.
type Dispatcher struct {
	config   DispatcherConfig
	senders  map[domain.ChannelType]Sender
	breakers map[domain.ChannelType]*gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(config DispatcherConfig, senders ...Sender) *Dispatcher {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	d := &Dispatcher{
		config:   config,
		senders:  make(map[domain.ChannelType]Sender),
		breakers: make(map[domain.ChannelType]*gobreaker.CircuitBreaker),
		limiter:  rate.NewLimiter(limit, 1),
	}
	for _, s := range senders {
		d.senders[s.Type()] = s
		d.breakers[s.Type()] = newBreaker(s.Type(), config)
	}
	return d
}

func newBreaker(channelType domain.ChannelType, config DispatcherConfig) *gobreaker.CircuitBreaker {
	failures := config.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(channelType),
		Timeout: config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A rejected payload says nothing about the endpoint's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("notification circuit breaker state changed",
				"channel_type", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// HasSender reports whether the channel type can be delivered.
func (d *Dispatcher) HasSender(channelType domain.ChannelType) bool {
	_, ok := d.senders[channelType]
	return ok
}

// SendToChannel delivers notification, retrying retryable failures with
// exponential backoff until the attempt limit or ctx is done.
func (d *Dispatcher) SendToChannel(ctx context.Context, channelType domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channelType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, channelType)
	}
	breaker := d.breakers[channelType]

	attempt := 0
	op := func() error {
		attempt++
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, sender.Send(ctx, notification)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		slog.Debug("notification send failed, will retry",
			"channel_type", channelType,
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	return backoff.Retry(op, backoff.WithContext(d.backoff(), ctx))
}

func (d *Dispatcher) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if d.config.InitialBackoff > 0 {
		b.InitialInterval = d.config.InitialBackoff
	}
	if d.config.MaxBackoff > 0 {
		b.MaxInterval = d.config.MaxBackoff
	}
	if d.config.BackoffMultiplier > 0 {
		b.Multiplier = d.config.BackoffMultiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(d.config.MaxAttempts-1))
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
