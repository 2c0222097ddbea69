package events

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/interfaces"
)

// WebhookEmitter adapts the event bus to the interfaces.WebhookEmitter
// contract consumed by the scheduler and progress tracker. The actual
// HTTP delivery to subscriber URLs is an out-of-scope collaborator
// (spec §1); this emitter only guarantees best-effort fan-out to
// whatever delivery handler is subscribed at wiring time.
type WebhookEmitter struct {
	bus     *Service
	logger  arbor.ILogger
	enabled bool
}

func NewWebhookEmitter(bus *Service, enabled bool, logger arbor.ILogger) *WebhookEmitter {
	return &WebhookEmitter{bus: bus, enabled: enabled, logger: logger}
}

func (e *WebhookEmitter) Emit(ctx context.Context, event interfaces.WebhookEvent) {
	if !e.enabled {
		return
	}
	e.logger.Debug().Str("event_type", string(event.Type)).Str("subject", event.Subject).Msg("emitting webhook event")
	e.bus.Publish(ctx, event)
}
