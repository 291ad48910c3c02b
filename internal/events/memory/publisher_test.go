package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher(t *testing.T) {
	p := NewPublisher(nil)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "a", 1))
	require.NoError(t, p.Publish(ctx, "b", 2))
	require.NoError(t, p.Publish(ctx, "a", 3))

	assert.Len(t, p.Events(), 3)
	assert.Equal(t, []any{1, 3}, p.ByTopic("a"))
	assert.Empty(t, p.ByTopic("c"))
}
