package diskcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	require.NoError(t, c.Put(ctx, "k1", []byte("v1"), time.Hour))

	val, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
}

func TestGetMissingKey(t *testing.T) {
	c := newTestCache(t)

	_, ok, err := c.Get(t.Context(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutReplaces(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	require.NoError(t, c.Put(ctx, "k1", []byte("old"), time.Hour))
	require.NoError(t, c.Put(ctx, "k1", []byte("new"), time.Hour))

	val, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), val)
}

func TestExpiredEntryNotReturned(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	require.NoError(t, c.Put(ctx, "k1", []byte("v1"), -time.Second))

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurge(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	require.NoError(t, c.Put(ctx, "dead", []byte("v"), -time.Second))
	require.NoError(t, c.Put(ctx, "live", []byte("v"), time.Hour))

	require.NoError(t, c.Purge(ctx))

	_, ok, err := c.Get(ctx, "dead")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := t.Context()

	c, err := New(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k1", []byte("v1"), time.Hour))
	require.NoError(t, c.Close())

	c2, err := New(path)
	require.NoError(t, err)
	defer c2.Close()

	val, ok, err := c2.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
}
