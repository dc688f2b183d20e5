package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildkit/guild-tickets/internal/api/http/handlers"
	"github.com/guildkit/guild-tickets/internal/auth"
	"github.com/guildkit/guild-tickets/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Audit          *handlers.AuditHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if registry := cfg.Metrics.Registry(); registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	guild := app.Group("/guilds", cfg.AuthMiddleware.Handle)
	scoped := cfg.AuthMiddleware.RequireGuildScope

	guild.Post("/:guildID/tickets", scoped, cfg.Tickets.OpenTicket)
	guild.Get("/:guildID/tickets", scoped, cfg.Tickets.ListOpenTickets)
	guild.Get("/:guildID/tickets/:ticketID", scoped, cfg.Tickets.GetTicket)
	guild.Post("/:guildID/tickets/:ticketID/claim", scoped, cfg.Tickets.ClaimTicket)
	guild.Post("/:guildID/tickets/:ticketID/unclaim", scoped, cfg.Tickets.UnclaimTicket)
	guild.Post("/:guildID/tickets/:ticketID/close", scoped, cfg.Tickets.CloseTicket)
	guild.Get("/:guildID/channels/:channelID/ticket", scoped, cfg.Tickets.GetChannelTicket)

	guild.Get("/:guildID/audit-log", scoped, cfg.Audit.ListEntries)
	guild.Post("/:guildID/audit-log", scoped, cfg.Audit.RecordChange)
}
