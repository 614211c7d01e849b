package notifications

import "errors"

// Delivery errors.
var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrNoSender  = errors.New("no sender for channel type")
	ErrNoTarget  = errors.New("notification has no target")
)
