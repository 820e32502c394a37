package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/handlers"
	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/middleware"
	"github.com/ThinkParQ/beegfs-sub011/internal/server"
)

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, node *server.Node, cfg *config.Config, version string) *handlers.Handler {
	h := handlers.New(logger, node, version)

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Health check and metrics (no auth required)
	app.Get("/health", h.Health)
	if cfg.Metrics.Enabled && node.Metrics() != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(promhttp.HandlerFor(node.Metrics().Registry, promhttp.HandlerOpts{})))
	}

	authMiddleware := middleware.APIKeyAuth(logger, cfg.Auth.APIKeys, cfg.Auth.Enabled)
	admin := app.Group("/admin", authMiddleware)

	// Node and target states
	admin.Get("/node", h.NodeStatus)
	admin.Get("/targets", h.ListTargetStates)
	admin.Put("/targets/:target_id/consistency", h.SetTargetConsistency)

	// Mirror group management
	admin.Get("/groups", h.ListGroups)
	admin.Post("/groups", h.CreateGroup)
	admin.Get("/groups/:group_id", h.GetGroup)
	admin.Delete("/groups/:group_id", h.DeleteGroup)
	admin.Post("/groups/:group_id/swap", h.SwapGroup)

	// Buddy resync
	admin.Get("/resync", h.ListResyncStats)
	admin.Post("/groups/:group_id/resync", h.StartResync)
	admin.Get("/groups/:group_id/resync", h.GetResyncStats)
	admin.Delete("/groups/:group_id/resync", h.AbortResync)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app serving the admin API of a node
func New(logger *logging.Logger, node *server.Node, cfg *config.Config, version string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "BeeGFS Mirror",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, node, cfg, version)

	return app
}
