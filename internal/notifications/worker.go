package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	NumWorkers int
	// SendTimeout bounds one delivery, retries included.
	SendTimeout time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:  2,
		SendTimeout: 2 * time.Minute,
	}
}

// Worker drains the queue and delivers notifications.
type Worker struct {
	config     WorkerConfig
	queue      *Queue
	dispatcher *Dispatcher
	renderer   *Renderer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, queue *Queue, dispatcher *Dispatcher, renderer *Renderer) *Worker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	return &Worker{
		config:     config,
		queue:      queue,
		dispatcher: dispatcher,
		renderer:   renderer,
		stopCh:     make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"queue_capacity", cap(w.queue.items),
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop stops all workers. Items still queued are dropped.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	if n := w.queue.Len(); n > 0 {
		slog.Warn("notification worker stopped with queued items", "dropped", n)
	}
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case item := <-w.queue.items:
			notificationQueueSize.Set(float64(w.queue.Len()))
			w.processItem(ctx, workerID, item)
		}
	}
}

func (w *Worker) processItem(ctx context.Context, workerID int, item QueueItem) {
	start := time.Now()
	channelType := string(item.Channel)

	subject, body, err := w.renderer.Render(item.Channel, item.Payload)
	if err != nil {
		slog.Error("failed to render", "incident_id", item.Payload.IncidentID, "error", err)
		recordNotificationSent(channelType, "failed")
		return
	}

	notification := Notification{
		To:      item.Target,
		Subject: subject,
		Body:    body,
	}

	sendCtx := ctx
	if w.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.config.SendTimeout)
		defer cancel()
	}

	err = w.dispatcher.SendToChannel(sendCtx, item.Channel, notification)
	duration := time.Since(start)
	recordNotificationDuration(channelType, duration)

	if err != nil {
		slog.Error("failed to deliver escalation notification",
			"worker", workerID,
			"incident_id", item.Payload.IncidentID,
			"level", item.Payload.Level,
			"channel_type", item.Channel,
			"error", err,
		)
		recordNotificationSent(channelType, "failed")
		return
	}

	recordNotificationSent(channelType, "success")
	slog.Debug("notification sent",
		"worker", workerID,
		"incident_id", item.Payload.IncidentID,
		"channel_type", item.Channel,
		"duration", duration,
		"queued_for", start.Sub(item.EnqueuedAt),
	)
}
