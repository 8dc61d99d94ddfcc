package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/middleware"
)

// SetupRoutes configures all the routes for the application
func SetupRoutes(app *fiber.App, h *Handlers, adminKey string, log zerolog.Logger) {
	// API group with versioning
	api := app.Group("/api/v1")

	api.Get("/health", h.HealthCheck)

	admin := api.Group("/admin", middleware.AdminOnly(adminKey, log))
	{
		admin.Get("/settings", h.ListSettings)
		admin.Post("/settings", h.CreateSetting)
		admin.Get("/settings/:id", h.GetSetting)
		admin.Put("/settings/:id", h.UpdateSetting)
		admin.Delete("/settings/:id", h.DeleteSetting)
		admin.Post("/settings/:id/sync", h.SyncSetting)

		admin.Get("/articles", h.ListArticles)

		admin.Get("/finished", h.ListFinished)
		admin.Get("/finished/:id", h.GetFinished)
		admin.Post("/finished/:id/send", h.SendFinished)

		admin.Get("/sites", h.ListSites)
		admin.Post("/sites", h.UpsertSite)
		admin.Post("/sites/:id/terms/sync", h.SyncSiteTerms)

		admin.Get("/logs", h.ListLogs)
		admin.Delete("/logs", h.PurgeLogs)

		admin.Get("/queue", h.QueueStatus)
		admin.Post("/queue/tick", h.Tick)
	}

	// 404 Handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
		})
	})
}
