package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/nats-io/nats.go"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/interfaces"
)

// Publisher is the subset of *nats.Conn used for delivery
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSNotifier publishes notifications as JSON on a subject
type NATSNotifier struct {
	conn    Publisher
	closer  func()
	subject string
	logger  interfaces.Logger
}

// ConnectNATS dials the server and returns a notifier publishing on subject
func ConnectNATS(url, subject string, logger interfaces.Logger) (*NATSNotifier, error) {
	logger.Info("Connecting to NATS", map[string]interface{}{"url": url})

	conn, err := nats.Connect(url,
		nats.Name("accounts-notifier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := NewNATSNotifier(conn, subject, logger)
	n.closer = conn.Close
	return n, nil
}

// NewNATSNotifier wraps an established publisher
func NewNATSNotifier(conn Publisher, subject string, logger interfaces.Logger) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject, logger: logger}
}

// Notify publishes n, retrying transient failures
func (n *NATSNotifier) Notify(ctx context.Context, notification *Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	err = retry.Do(
		func() error {
			if err := n.conn.Publish(n.subject, payload); err != nil {
				return err
			}
			return n.conn.FlushTimeout(2 * time.Second)
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Warn("Retrying notification publish", map[string]interface{}{
				"attempt": attempt + 1,
				"kind":    string(notification.Kind),
				"error":   err.Error(),
			})
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return apperrors.NewServiceUnavailableError("nats", err).WithDetail("subject", n.subject)
	}
	return nil
}

// Close drains nothing and closes the connection if this notifier owns it
func (n *NATSNotifier) Close() error {
	if n.closer != nil {
		n.closer()
	}
	return nil
}
