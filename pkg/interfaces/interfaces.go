// Package interfaces defines the cross-cutting contracts of the accounts service
package interfaces

import (
	"context"
	"time"
)

// Logger defines the logging interface
type Logger interface {
	// Debug logs debug level messages
	Debug(msg string, fields ...map[string]interface{})

	// Info logs info level messages
	Info(msg string, fields ...map[string]interface{})

	// Warn logs warning level messages
	Warn(msg string, fields ...map[string]interface{})

	// Error logs error level messages
	Error(msg string, err error, fields ...map[string]interface{})

	// WithFields returns a logger that always carries the given fields
	WithFields(fields map[string]interface{}) Logger
}

// Metrics defines the metrics collection interface
type Metrics interface {
	// ObserveRequest records a completed HTTP request
	ObserveRequest(method, route string, status int, duration time.Duration)

	// ObserveUseCase records a dispatched use case and its outcome
	ObserveUseCase(name string, err error, duration time.Duration)

	// IncHistoryEvent counts audit history rows by event
	IncHistoryEvent(event string)
}

// HealthChecker is implemented by dependencies that take part in the health endpoint
type HealthChecker interface {
	Ping(ctx context.Context) error
}
