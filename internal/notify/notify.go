// Package notify delivers offer messages to subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotificationFailed is matched by every *SendError.
var ErrNotificationFailed = errors.New("notification failed")

// Notifier sends text to one destination. Failures are reported, never
// retried within the same call.
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}

// SendError describes a failed delivery.
type SendError struct {
	Destination string
	StatusCode  int // HTTP status, 0 when no response was received
	Cause       error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("send to %s: status %d: %v", e.Destination, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("send to %s: %v", e.Destination, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

func (e *SendError) Is(target error) bool { return target == ErrNotificationFailed }
