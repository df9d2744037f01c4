package redisx

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilCacheIsAMiss(t *testing.T) {
	ctx := context.Background()
	var c *Cache

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Set(ctx, "k", "v", TTLStatusCache))
	require.NoError(t, c.Del(ctx, "k"))

	won, err := NewCache(nil).Claim(ctx, "k", TTLDedup)
	require.NoError(t, err)
	require.True(t, won)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "idem:payment:cs_123", fmt.Sprintf(KeyIdemPayment, "cs_123"))
	require.Equal(t, "dedup:reconciler:ev-1", fmt.Sprintf(KeyDedup, "reconciler", "ev-1"))
}
