// internal/notify/notify.go
package notify

import (
	"context"
	"log"
)

// Sender delivers a message to a recipient (SMS/WhatsApp behind the boundary).
// Delivery is fire-and-forget: callers log failures and never block on them.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}

// LogSender writes notifications to the process log. It stands in for the
// real delivery service in local runs and tests.
type LogSender struct{}

func NewLogSender() *LogSender { return &LogSender{} }

func (s *LogSender) Send(_ context.Context, recipient, message string) error {
	log.Printf("notify %s: %s", recipient, message)
	return nil
}
