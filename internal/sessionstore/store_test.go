package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisStore(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	_, ok, err := store.AuthenticatedSubject(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetAuthenticatedSubject(ctx, "sess-1", "subj-1"))
	subject, ok, err := store.AuthenticatedSubject(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "subj-1", subject)

	mr.FastForward(30 * time.Minute)
	_, ok, _ = store.AuthenticatedSubject(ctx, "sess-1")
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("session:subject:sess-1"), "reads slide the expiry")

	mr.FastForward(2 * time.Hour)
	_, ok, _ = store.AuthenticatedSubject(ctx, "sess-1")
	assert.False(t, ok)

	require.NoError(t, store.SetAuthenticatedSubject(ctx, "sess-2", "subj-2"))
	require.NoError(t, store.Clear(ctx, "sess-2"))
	_, ok, _ = store.AuthenticatedSubject(ctx, "sess-2")
	assert.False(t, ok)

	assert.Error(t, store.SetAuthenticatedSubject(ctx, "", "subj"))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.SetAuthenticatedSubject(ctx, "sess", "subj"))
	subject, ok, err := store.AuthenticatedSubject(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "subj", subject)

	now = now.Add(2 * time.Hour)
	_, ok, _ = store.AuthenticatedSubject(ctx, "sess")
	assert.False(t, ok)
}
