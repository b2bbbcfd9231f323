package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New(time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "ROOMFOLDER:RoomFolderId:A101", "folder-id", time.Minute))
	v, ok, err := c.Get(ctx, "ROOMFOLDER:RoomFolderId:A101")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "folder-id", v)
}

func TestEntriesExpire(t *testing.T) {
	c := New(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
