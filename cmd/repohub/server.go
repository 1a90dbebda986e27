package main

import (
	"context"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

const healthTimeout = 2 * time.Second

// newApp builds the HTTP server with every route mounted.
func newApp(c *Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "repohub",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		BodyLimit:             c.Config.Server.BodyLimit,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  c.Config.Server.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, PUT, DELETE, HEAD, OPTIONS",
		ExposeHeaders: "X-Request-ID, Retry-After",
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${locals:requestid}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Get("/health", healthCheckHandler(c))
	app.Get("/", infoHandler(c))

	authn := c.AuthMiddleware.Authenticate()
	c.JobHandlers.RegisterRoutes(app, authn)
	c.TableHandlers.RegisterRoutes(app, authn)

	app.Use(notFoundHandler)
	return app
}

// healthCheckHandler reports the state of the job store backends.
func healthCheckHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		health := fiber.Map{
			"status":     "healthy",
			"store":      c.Config.Jobx.Store,
			"table_sink": c.Config.Tables.Sink,
		}
		check, cancel := context.WithTimeout(ctx.UserContext(), healthTimeout)
		defer cancel()

		if c.DB != nil {
			if err := c.DB.PingContext(check); err != nil {
				health["db"] = "unhealthy"
				health["db_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["db"] = "healthy"
			}
		}
		if c.Redis != nil {
			if err := c.Redis.Ping(check).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["redis_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["redis"] = "healthy"
			}
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}
		return ctx.Status(status).JSON(health)
	}
}

func infoHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"service":       "repohub",
			"request_types": c.Dispatcher.RequestTypes(),
			"endpoints": fiber.Map{
				"jobs": fiber.Map{
					"submit": "POST /api/v1/jobs",
					"poll":   "GET /api/v1/jobs/:jobId",
					"status": "GET /api/v1/jobs/:jobId/status",
					"cancel": "DELETE /api/v1/jobs/:jobId",
				},
				"tables": fiber.Map{
					"stage":  "PUT /api/v1/tables/files/:name",
					"start":  "POST /api/v1/tables/upload/async/start",
					"result": "GET /api/v1/tables/upload/async/get/:jobId",
				},
				"health": "GET /health",
			},
		})
	}
}

func notFoundHandler(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound, "Route "+c.Method()+" "+c.Path()+" does not exist")
}

// errorHandler logs the failed request and renders the error document.
func errorHandler(c *fiber.Ctx, err error) error {
	entry := logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Locals("requestid"),
	}).WithError(err)

	var e *errx.Error
	if errx.As(err, &e) && e.HTTPStatus < fiber.StatusInternalServerError {
		entry.Debug("Request rejected")
	} else {
		entry.Error("Request failed")
	}
	return errx.FiberErrorHandler(c, err)
}
