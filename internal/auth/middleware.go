package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/guildkit/guild-tickets/internal/domain"
	apperrors "github.com/guildkit/guild-tickets/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Actor   domain.Actor
	GuildID string
}

// CanAccess reports whether the principal is scoped to guildID.
func (p *Principal) CanAccess(guildID string) bool {
	return p.GuildID == AllGuilds || p.GuildID == guildID
}

// IdentityCache records the display snapshot carried by a token.
type IdentityCache interface {
	Remember(ctx context.Context, guildID string, actor domain.Actor) error
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens     *TokenManager
	identities IdentityCache
	logger     *zap.Logger
}

// NewAuthMiddleware constructs middleware. identities may be nil.
func NewAuthMiddleware(tokens *TokenManager, identities IdentityCache, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, identities: identities, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{
		Actor: domain.Actor{
			UserID:   claims.Subject,
			Username: claims.Username,
			Avatar:   claims.Avatar,
		},
		GuildID: claims.GuildID,
	})
	return c.Next()
}

// RequireGuildScope rejects principals whose token does not cover the :guildID route
// parameter, then refreshes the caller's display snapshot for that guild.
func (m *AuthMiddleware) RequireGuildScope(c *fiber.Ctx) error {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	guildID := c.Params("guildID")
	if guildID == "" || !principal.CanAccess(guildID) {
		return apperrors.NewForbidden("token is not valid for this guild")
	}
	if m.identities != nil {
		if err := m.identities.Remember(c.UserContext(), guildID, principal.Actor); err != nil {
			m.logger.Warn("identity snapshot not cached", zap.String("user_id", principal.Actor.UserID), zap.Error(err))
		}
	}
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
