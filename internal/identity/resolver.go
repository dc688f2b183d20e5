package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/domain"
)

const keyPrefix = "identity"

// CachedResolver keeps the latest display snapshot seen for each guild member in Redis.
// Authenticated requests refresh it; the audit recorder reads it when writing entries.
type CachedResolver struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedResolver builds a resolver. A nil client resolves every user to their bare id.
func NewCachedResolver(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedResolver{client: client, ttl: ttl, logger: logger.Named("identity")}
}

// Remember stores actor as the current snapshot for the guild member.
func (r *CachedResolver) Remember(ctx context.Context, guildID string, actor domain.Actor) error {
	if r == nil || r.client == nil || actor.UserID == "" || actor.Username == "" {
		return nil
	}
	key := cacheKey(guildID, actor.UserID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "username", actor.Username, "avatar", actor.Avatar)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember identity: %w", err)
	}
	return nil
}

// Resolve returns the cached snapshot, or the bare id when none is cached.
func (r *CachedResolver) Resolve(ctx context.Context, guildID, userID string) (domain.Actor, error) {
	actor := domain.Actor{UserID: userID, Username: userID}
	if r == nil || r.client == nil {
		return actor, nil
	}
	values, err := r.client.HGetAll(ctx, cacheKey(guildID, userID)).Result()
	if err != nil {
		return actor, fmt.Errorf("resolve identity: %w", err)
	}
	if name := values["username"]; name != "" {
		actor.Username = name
	}
	actor.Avatar = values["avatar"]
	return actor, nil
}

func cacheKey(guildID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, guildID, userID)
}
