package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"riskcrash/internal/cache"
	"riskcrash/internal/database"
	"riskcrash/internal/game"
	"riskcrash/internal/logger"
	"riskcrash/internal/stats"
	"riskcrash/internal/treasury"
)

// Deps are the components the HTTP layer serves. DB and Cache are optional;
// they only feed the health report.
type Deps struct {
	Manager     *game.Manager
	Hub         *game.Hub
	Treasury    *treasury.Service
	Stats       *stats.Aggregator
	DB          database.Service
	Cache       cache.Service
	StoreDriver string
	AdminToken  string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

type FiberServer struct {
	*fiber.App

	db          database.Service
	cache       cache.Service
	gameManager *game.Manager
	gameHub     *game.Hub
	treasury    *treasury.Service
	stats       *stats.Aggregator
	storeDriver string
	adminToken  string
}

func New(d Deps) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "riskcrash",
			AppName:       "riskcrash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
			ErrorHandler:  errorHandler,
		}),

		db:          d.DB,
		cache:       d.Cache,
		gameManager: d.Manager,
		gameHub:     d.Hub,
		treasury:    d.Treasury,
		stats:       d.Stats,
		storeDriver: d.StoreDriver,
		adminToken:  d.AdminToken,
	}

	server.App.Use(recover.New())
	if d.RateLimit > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        d.RateLimit,
			Expiration: 1 * time.Minute,
		}))
	}

	server.RegisterFiberRoutes()
	return server
}

// errorHandler renders errors that escape a handler, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		logger.Error("Unhandled request error", "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// Shutdown stops accepting requests and closes every websocket client. The
// game manager and stores are owned and closed by the caller.
func (s *FiberServer) Shutdown() error {
	logger.Info("HTTP server shutting down")

	err := s.App.ShutdownWithTimeout(5 * time.Second)
	if s.gameHub != nil {
		s.gameHub.Stop()
	}
	return err
}
