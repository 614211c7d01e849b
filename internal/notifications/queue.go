package notifications

import (
	"context"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
)

// Notification is a rendered message ready for a sender.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers rendered notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}

// QueueItem is one pending delivery.
type QueueItem struct {
	Channel    domain.ChannelType
	Target     string
	Payload    EscalationPayload
	EnqueuedAt time.Time
}

// Queue is a bounded in-memory delivery queue. Offer never blocks.
type Queue struct {
	items chan QueueItem
}

// NewQueue creates a queue holding at most size items.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{items: make(chan QueueItem, size)}
}

// Offer enqueues item, returning ErrQueueFull instead of waiting.
func (q *Queue) Offer(item QueueItem) error {
	select {
	case q.items <- item:
		notificationQueueSize.Set(float64(len(q.items)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.items)
}
