package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/services/events"
)

func TestPublishSync_ReturnsFirstHandlerError(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	boom := errors.New("boom")

	bus.Subscribe(interfaces.EventTaskExecuted, func(ctx context.Context, event interfaces.WebhookEvent) error {
		return boom
	})

	err := bus.PublishSync(context.Background(), interfaces.WebhookEvent{Type: interfaces.EventTaskExecuted})
	require.ErrorIs(t, err, boom)
}

func TestPublish_DeliversAsynchronouslyToAllSubscribers(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	received := make(chan string, 2)

	bus.Subscribe(interfaces.EventCrawlComplete, func(ctx context.Context, event interfaces.WebhookEvent) error {
		received <- "first"
		return nil
	})
	bus.Subscribe(interfaces.EventCrawlComplete, func(ctx context.Context, event interfaces.WebhookEvent) error {
		received <- "second"
		return nil
	})

	bus.Publish(context.Background(), interfaces.WebhookEvent{Type: interfaces.EventCrawlComplete, Subject: "job-1"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case who := <-received:
			seen[who] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for async subscribers")
		}
	}
	require.True(t, seen["first"])
	require.True(t, seen["second"])
}

func TestWebhookEmitter_DisabledNeverPublishes(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	fired := false
	bus.Subscribe(interfaces.EventTaskFailed, func(ctx context.Context, event interfaces.WebhookEvent) error {
		fired = true
		return nil
	})

	emitter := events.NewWebhookEmitter(bus, false, arbor.NewLogger())
	emitter.Emit(context.Background(), interfaces.WebhookEvent{Type: interfaces.EventTaskFailed})

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired)
}
