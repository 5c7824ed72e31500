package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := sysconfig.Load()

	logLevel := getEnv("LOG_LEVEL", "info")
	logx.SetLevel(logx.ParseLevel(logLevel))

	logx.Info("starting gcaproxy")

	ctx := context.Background()
	container := NewContainer(ctx, cfg)
	defer container.Cleanup()

	app := fiber.New(fiber.Config{
		AppName:               "gcaproxy",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		BodyLimit:             10 * 1024 * 1024,
		IdleTimeout:           cfg.Server.RequestTimeout,
		EnablePrintRoutes:     false,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New(requestid.Config{Header: "X-Request-ID"}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, x-api-key, X-Request-ID",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Get("/health", healthCheckHandler(container))

	container.UserHandlers.RegisterRoutes(app, container.AuthMiddleware.Authenticate())
	container.APIKeyHandlers.RegisterRoutes(app, container.AuthMiddleware.Authenticate())
	container.CredentialHandlers.RegisterRoutes(app, container.AuthMiddleware.Authenticate())
	container.DispatchHandlers.RegisterRoutes(app)
	logx.Info("routes registered")

	app.Use(notFoundHandler)

	startServer(app, cfg)
}

func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{"status": "healthy", "service": "gcaproxy"}
		if err := container.DB.Ping(); err != nil {
			health["status"] = "degraded"
			health["db"] = "unhealthy"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}
		health["db"] = "healthy"
		return c.JSON(health)
	}
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":  "route not found",
		"path":   c.Path(),
		"method": c.Method(),
	})
}

// globalErrorHandler converts errx.Error and fiber.Error into the wire
// error envelope; anything else is reported as an opaque internal error.
func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("request error: %v", err)

	if e, ok := err.(*errx.Error); ok {
		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"request_id": c.Get("X-Request-ID"),
		}
		if len(e.Details) > 0 {
			response["details"] = e.Details
		}
		return c.Status(e.HTTPStatus).JSON(response)
	}

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"request_id": c.Get("X-Request-ID"),
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "internal server error",
		"code":       "INTERNAL_ERROR",
		"request_id": c.Get("X-Request-ID"),
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func startServer(app *fiber.App, cfg *sysconfig.Config) {
	go func() {
		logx.Infof("server listening on port %s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logx.Fatalf("server error: %v", err)
		}
	}()

	gracefulShutdown(app, cfg)
}

func gracefulShutdown(app *fiber.App, cfg *sysconfig.Config) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logx.Infof("received signal: %v, shutting down", sig)

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		logx.Errorf("server forced to shutdown: %v", err)
	}

	logx.Info("server exited successfully")
}
