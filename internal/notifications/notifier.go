package notifications

import (
	"context"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/escalation"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
)

// NotifierConfig holds routing defaults.
type NotifierConfig struct {
	// DefaultChannel is used when the rule names none and for manual escalations.
	DefaultChannel domain.ChannelType
	// DefaultTarget is used when the event carries no target.
	DefaultTarget string
	// BaseURL links notices to the incident.
	BaseURL string
}

// Notifier implements escalation.Notifier by enqueuing deliveries.
// Notify never blocks and never fails the escalation: anything that cannot
// be queued is logged and counted as dropped.
type Notifier struct {
	config     NotifierConfig
	queue      *Queue
	dispatcher *Dispatcher
}

var _ escalation.Notifier = (*Notifier)(nil)

// NewNotifier creates a new Notifier.
func NewNotifier(config NotifierConfig, queue *Queue, dispatcher *Dispatcher) *Notifier {
	return &Notifier{
		config:     config,
		queue:      queue,
		dispatcher: dispatcher,
	}
}

// Notify queues a notice for a committed escalation event.
func (n *Notifier) Notify(ctx context.Context, note escalation.Notification) {
	logger := ctxlog.FromContext(ctx)
	if note.Event == nil || note.Incident == nil {
		return
	}

	channel := resolveChannel(note, n.config.DefaultChannel)
	if channel == "" {
		logger.Debug("escalation has no notification channel", "event_id", note.Event.ID)
		recordDropped("no_channel")
		return
	}
	if !n.dispatcher.HasSender(channel) {
		logger.Warn("no sender for escalation channel", "channel_type", channel, "event_id", note.Event.ID)
		recordDropped("no_sender")
		return
	}

	target := note.Event.Target
	if target == "" {
		target = n.config.DefaultTarget
	}

	item := QueueItem{
		Channel:    channel,
		Target:     target,
		Payload:    NewEscalationPayload(note, n.config.BaseURL),
		EnqueuedAt: time.Now(),
	}
	if err := n.queue.Offer(item); err != nil {
		logger.Warn("dropping escalation notification",
			"event_id", note.Event.ID,
			"incident_id", note.Incident.ID,
			"error", err,
		)
		recordDropped("queue_full")
	}
}
