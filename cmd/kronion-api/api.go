// Package main provides the Kronion HTTP API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/kronion-io/kronion/pkg/eventbus"
	"github.com/kronion-io/kronion/pkg/jobs"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/registry"
	"github.com/kronion-io/kronion/pkg/runner"
	"github.com/kronion-io/kronion/pkg/web"
	"github.com/kronion-io/kronion/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	backend     runner.Backend
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	backend runner.Backend,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		backend:     backend,
	}
}

func (a *API) App() *fiber.App {
	reg := registry.NewDefaultRegistry(a.logger, a.backend)
	engine := workflow.NewEngine(a.logger, a.persistence, reg, a.eventBus)

	handlers := web.NewHandlers(
		jobs.NewService(a.logger, a.persistence, nil),
		workflow.NewPublishingService(a.logger, a.persistence, reg, nil),
		workflow.NewRunService(a.logger, a.persistence, engine),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Kronion API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
