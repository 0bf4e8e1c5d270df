package redis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubscriptionGroupsAreDistinct(t *testing.T) {
	bus, err := NewStreamsEventBus(nil, "nectar-workers", "nectar-1", zap.NewNop())
	require.NoError(t, err)

	// Every subscription reads through its own group so concurrent
	// subscribers never steal each other's events.
	a := bus.subscriptionGroup()
	b := bus.subscriptionGroup()

	assert.True(t, strings.HasPrefix(a, "nectar-workers-"))
	assert.True(t, strings.HasPrefix(b, "nectar-workers-"))
	assert.NotEqual(t, a, b)
}
