package identity

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-tickets/internal/domain"
)

func TestResolveWithoutClientFallsBackToID(t *testing.T) {
	r := NewCachedResolver(nil, time.Hour, nil)

	require.NoError(t, r.Remember(context.Background(), "g1", domain.Actor{UserID: "u1", Username: "alice"}))
	actor, err := r.Resolve(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: "u1", Username: "u1"}, actor)
}

func TestResolveReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	r := NewCachedResolver(client, time.Hour, nil)

	actor, err := r.Resolve(context.Background(), "g1", "u1")
	assert.Error(t, err)
	assert.Equal(t, "u1", actor.UserID)
	assert.Equal(t, "u1", actor.Username)

	assert.Error(t, r.Remember(context.Background(), "g1", domain.Actor{UserID: "u1", Username: "alice"}))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "identity:g1:u1", cacheKey("g1", "u1"))
}
