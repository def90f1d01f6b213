package usecases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/pnocera/accounts/pkg/errors"
	"github.com/pnocera/accounts/pkg/interfaces"
)

// UseCase handles one request
type UseCase interface {
	Handle(ctx context.Context, request interface{}) (interface{}, error)
}

// Factory builds a fresh use case for each request
type Factory func() UseCase

// HandlerFunc adapts a typed handler to UseCase
type HandlerFunc[Req any, Resp any] func(ctx context.Context, request *Req) (*Resp, error)

// Handle type-checks request before calling f
func (f HandlerFunc[Req, Resp]) Handle(ctx context.Context, request interface{}) (interface{}, error) {
	typed, ok := request.(*Req)
	if !ok {
		var zero Req
		return nil, apperrors.NewInternalError(fmt.Sprintf("unexpected request type %T, want *%T", request, zero))
	}
	return f(ctx, typed)
}

// Mediator dispatches requests to use cases registered by name
type Mediator struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    interfaces.Logger
	metrics   interfaces.Metrics
}

// NewMediator creates an empty mediator
func NewMediator(logger interfaces.Logger, metrics interfaces.Metrics) *Mediator {
	return &Mediator{
		factories: make(map[string]Factory),
		logger:    logger,
		metrics:   metrics,
	}
}

// Register adds or replaces the factory for name
func (m *Mediator) Register(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = factory
}

// Names lists the registered use cases
func (m *Mediator) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send builds the use case registered under name and hands it request
func (m *Mediator) Send(ctx context.Context, name string, request interface{}) (interface{}, error) {
	m.mu.RLock()
	factory, ok := m.factories[name]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotRegisteredError(name)
	}

	start := time.Now()
	response, err := factory().Handle(ctx, request)
	duration := time.Since(start)

	m.metrics.ObserveUseCase(name, err, duration)
	fields := map[string]interface{}{
		"usecase":     name,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		if apperrors.HTTPStatus(err) >= 500 {
			m.logger.Error("Use case failed", err, fields)
		} else {
			fields["error"] = err.Error()
			m.logger.Debug("Use case rejected request", fields)
		}
		return nil, err
	}
	m.logger.Debug("Use case handled", fields)
	return response, nil
}

// Send dispatches request and asserts the response type
func Send[Req any, Resp any](ctx context.Context, m *Mediator, name string, request *Req) (*Resp, error) {
	response, err := m.Send(ctx, name, request)
	if err != nil {
		return nil, err
	}
	typed, ok := response.(*Resp)
	if !ok {
		var zero Resp
		return nil, apperrors.NewInternalError(fmt.Sprintf("unexpected response type %T, want *%T", response, zero))
	}
	return typed, nil
}
