package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/config"
)

func TestNewRedisWithoutAddressIsDisabled(t *testing.T) {
	r := NewRedis(context.Background(), config.RedisConfig{}, zap.NewNop())

	assert.False(t, r.Enabled())
	assert.Nil(t, r.Client)
	assert.Error(t, r.Ping(context.Background()))
	assert.NotPanics(t, r.Close)
}

func TestNewRedisUnreachableServerIsNotFatal(t *testing.T) {
	start := time.Now()
	r := NewRedis(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	defer r.Close()

	assert.Less(t, time.Since(start), 2*redisStartupPingTimeout)
	assert.True(t, r.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, r.Ping(ctx))
}
