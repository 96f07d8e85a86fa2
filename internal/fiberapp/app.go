// Package fiberapp serves the room chat protocol over a Fiber (fasthttp) HTTP
// stack. It exposes the same endpoints as the net/http frontend and hands
// every upgraded socket to the shared server.Server.
package fiberapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Tyrowin/roomchat/internal/server"
)

// App is a Fiber application bound to a chat server.
type App struct {
	app *fiber.App
	srv *server.Server
	log *slog.Logger
}

// New builds the Fiber application and registers its routes.
func New(srv *server.Server) *App {
	a := &App{
		srv: srv,
		log: srv.Logger(),
	}

	a.app = fiber.New(fiber.Config{
		AppName:               "Roomchat",
		DisableStartupMessage: true,
		ErrorHandler:          a.errorHandler,
	})

	a.app.Use(recover.New())
	a.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))

	a.registerRoutes()
	return a
}

// Fiber returns the underlying application.
func (a *App) Fiber() *fiber.App {
	return a.app
}

func (a *App) registerRoutes() {
	a.app.Get("/", adaptor.HTTPHandlerFunc(server.HealthHandler))
	a.app.Get("/health", a.health)
	a.app.Get("/test", adaptor.HTTPHandlerFunc(server.TestPageHandler))

	wsConfig := websocket.Config{
		Origins:         []string{"*"},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	a.app.Use("/chat", a.upgradeGuard)
	a.app.Get("/chat", websocket.New(a.chat, wsConfig))

	a.app.Use("/echo", a.upgradeGuard)
	a.app.Get("/echo", websocket.New(a.echo, wsConfig))
}

// upgradeGuard rejects plain HTTP requests and disallowed origins before the
// WebSocket handshake.
func (a *App) upgradeGuard(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if !a.srv.OriginAllowed(c.Get(fiber.HeaderOrigin)) {
		return fiber.ErrForbidden
	}
	return c.Next()
}

func (a *App) health(c *fiber.Ctx) error {
	return c.JSON(a.srv.Health())
}

func (a *App) chat(c *websocket.Conn) {
	_ = a.srv.ServeChat(c, c.RemoteAddr().String())
}

func (a *App) echo(c *websocket.Conn) {
	_ = a.srv.ServeEcho(c, c.RemoteAddr().String())
}

// errorHandler handles errors globally.
func (a *App) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= fiber.StatusInternalServerError {
		a.log.Error("HTTP error", "code", code, "message", message, "error", err)
	} else {
		a.log.Debug("HTTP request rejected", "code", code, "path", c.Path())
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

// Listen serves on addr until Shutdown is called.
func (a *App) Listen(addr string) error {
	a.log.Info("Fiber server listening", "addr", addr)
	if err := a.app.Listen(addr); err != nil {
		return fmt.Errorf("fiber listen %s: %w", addr, err)
	}
	return nil
}

// Serve serves on an existing listener until Shutdown is called.
func (a *App) Serve(ln net.Listener) error {
	if err := a.app.Listener(ln); err != nil {
		return fmt.Errorf("fiber serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done. Live WebSocket sessions are closed by server.Server.Shutdown.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown fiber server: %w", err)
	}
	a.log.Info("Fiber server stopped")
	return nil
}
