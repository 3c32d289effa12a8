package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/store"
	"go.uber.org/zap"
)

// New builds the courierd fiber app: the websocket endpoint plus the
// bearer-authenticated REST seed API.
func New(cfg config.Server, db *store.DB, hub *Hub, logger *zap.Logger) *fiber.App {
	api := &API{
		db:       db,
		hub:      hub,
		verifier: NewTokenVerifier(cfg.AuthSecret),
		logger:   logger,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(api.handleWS))

	rest := app.Group("/api", api.requireAuth)
	rest.Get("/conversations", api.handleConversations)
	rest.Get("/messages/:otherId", api.handleMessages)
	rest.Get("/users/search", api.handleSearch)

	return app
}
