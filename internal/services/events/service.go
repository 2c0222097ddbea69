// Package events implements an in-process pub-sub bus, adapted from the
// teacher's events.Service, used to resolve the cyclic scheduler <->
// webhook <-> progress dependency the spec calls out in §9: callers
// depend on the small interfaces.WebhookEmitter interface rather than on
// each other directly.
package events

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/interfaces"
)

// Handler processes one published event.
type Handler func(ctx context.Context, event interfaces.WebhookEvent) error

// Service is a simple fan-out event bus.
type Service struct {
	mu          sync.RWMutex
	subscribers map[interfaces.WebhookEventType][]Handler
	logger      arbor.ILogger
}

func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.WebhookEventType][]Handler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type.
func (s *Service) Subscribe(eventType interfaces.WebhookEventType, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)
}

// Publish fires all handlers for event.Type asynchronously; a handler
// failure is logged but never blocks or fails the caller, per the
// propagation policy in spec §7 ("webhook failures are logged but never
// fail the originating request").
func (s *Service) Publish(ctx context.Context, event interfaces.WebhookEvent) {
	s.mu.RLock()
	handlers := append([]Handler(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	for _, h := range handlers {
		go func(handler Handler) {
			if err := handler(ctx, event); err != nil {
				s.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("event handler failed")
			}
		}(h)
	}
}

// PublishSync fires all handlers and waits for them, returning the first
// error encountered (if any). Used by tests and by call sites that need
// to know delivery was attempted before proceeding.
func (s *Service) PublishSync(ctx context.Context, event interfaces.WebhookEvent) error {
	s.mu.RLock()
	handlers := append([]Handler(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))
	for _, h := range handlers {
		wg.Add(1)
		go func(handler Handler) {
			defer wg.Done()
			if err := handler(ctx, event); err != nil {
				errCh <- err
			}
		}(h)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}
