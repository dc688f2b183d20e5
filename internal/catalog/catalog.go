package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StaticCatalog accepts a fixed set of ticket types for every guild.
type StaticCatalog struct {
	types map[string]struct{}
}

// NewStaticCatalog builds a catalog from type ids; blanks are ignored.
func NewStaticCatalog(types []string) *StaticCatalog {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return &StaticCatalog{types: set}
}

func (c *StaticCatalog) Exists(_ context.Context, _, typeID string) (bool, error) {
	_, ok := c.types[typeID]
	return ok, nil
}

// RedisCatalog checks a per-guild set of ticket types maintained by the dashboard,
// falling back to the static defaults for guilds that have not configured any.
type RedisCatalog struct {
	client   *redis.Client
	defaults *StaticCatalog
	logger   *zap.Logger
}

// NewRedisCatalog builds a catalog backed by client.
func NewRedisCatalog(client *redis.Client, defaults *StaticCatalog, logger *zap.Logger) *RedisCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCatalog{client: client, defaults: defaults, logger: logger.Named("catalog")}
}

func (c *RedisCatalog) Exists(ctx context.Context, guildID, typeID string) (bool, error) {
	if c.client == nil {
		return c.defaults.Exists(ctx, guildID, typeID)
	}
	key := guildKey(guildID)
	var (
		configured *redis.IntCmd
		member     *redis.BoolCmd
	)
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		configured = pipe.Exists(ctx, key)
		member = pipe.SIsMember(ctx, key, typeID)
		return nil
	})
	if err != nil {
		c.logger.Warn("ticket type lookup failed; using defaults", zap.String("guild_id", guildID), zap.Error(err))
		return c.defaults.Exists(ctx, guildID, typeID)
	}
	if configured.Val() == 0 {
		return c.defaults.Exists(ctx, guildID, typeID)
	}
	return member.Val(), nil
}

func guildKey(guildID string) string {
	return fmt.Sprintf("ticket_types:%s", guildID)
}
