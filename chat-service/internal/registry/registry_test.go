package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_CountsOpenConversations(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	present, err := r.IsPresent(ctx, "m1", "p1")
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, r.Register(ctx, "m1", "p1"))
	require.NoError(t, r.Register(ctx, "m1", "p1"))
	require.NoError(t, r.Deregister(ctx, "m1", "p1"))

	present, _ = r.IsPresent(ctx, "m1", "p1")
	assert.True(t, present, "second tab still open")

	require.NoError(t, r.Deregister(ctx, "m1", "p1"))
	present, _ = r.IsPresent(ctx, "m1", "p1")
	assert.False(t, present)

	present, _ = r.IsPresent(ctx, "m1", "p2")
	assert.False(t, present)
}

func TestRedisRegistry_Defaults(t *testing.T) {
	r := NewRedisRegistry(nil, Config{}, "instance-1")
	assert.Equal(t, "chat:presence:match:m1:profile:p1", r.keyFor("m1", "p1"))
	assert.Positive(t, r.keyTTL)
	assert.Less(t, r.heartbeatInterval, r.keyTTL)
}
