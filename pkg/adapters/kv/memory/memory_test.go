package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

func TestStoreGetSetDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ephemeral", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := s.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStoreIncrement(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	n, err := s.Increment(ctx, "counter", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Increment(ctx, "counter", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// After the window expires the counter restarts.
	time.Sleep(20 * time.Millisecond)
	n, err = s.Increment(ctx, "counter", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
