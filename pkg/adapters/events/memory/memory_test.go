package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

func testEvent(runID string) domain.RunEvent {
	return domain.RunEvent{
		ID:        "evt-1",
		Type:      domain.EventRunCreated,
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	var first, second atomic.Int64
	require.NoError(t, bus.Subscribe(ctx, "runs.events", func(ctx context.Context, ev domain.RunEvent) error {
		first.Add(1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "runs.events", func(ctx context.Context, ev domain.RunEvent) error {
		second.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "runs.events", testEvent("r1")))

	assert.Equal(t, int64(1), first.Load())
	assert.Equal(t, int64(1), second.Load())
}

func TestSubscribeUnregistersOnContextCancel(t *testing.T) {
	bus := NewInMemoryEventBus()

	var calls atomic.Int64
	subCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(subCtx, "runs.events", func(ctx context.Context, ev domain.RunEvent) error {
		calls.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), "runs.events", testEvent("r1")))
	assert.Equal(t, int64(1), calls.Load())

	cancel()

	// Removal happens asynchronously after cancellation.
	assert.Eventually(t, func() bool {
		before := calls.Load()
		_ = bus.Publish(context.Background(), "runs.events", testEvent("r2"))
		return calls.Load() == before
	}, time.Second, 10*time.Millisecond)
}
