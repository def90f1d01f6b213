package notify

import (
	"context"

	"github.com/pnocera/accounts/pkg/interfaces"
)

// LogNotifier writes notifications to the log instead of delivering them
type LogNotifier struct {
	logger interfaces.Logger
}

// NewLogNotifier creates a log backed notifier
func NewLogNotifier(logger interfaces.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification; the body may carry a recovery token and is only logged at debug level
func (l *LogNotifier) Notify(ctx context.Context, n *Notification) error {
	l.logger.Info("Notification", map[string]interface{}{
		"id":      n.ID,
		"kind":    string(n.Kind),
		"to":      n.To,
		"subject": n.Subject,
	})
	l.logger.Debug("Notification body", map[string]interface{}{
		"id":   n.ID,
		"text": n.Text,
	})
	return nil
}

// Close is a no-op
func (l *LogNotifier) Close() error { return nil }
