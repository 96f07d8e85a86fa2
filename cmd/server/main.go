package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomchat/internal/fiberapp"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	config := server.NewConfigFromEnv()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel}))
	slog.SetDefault(logger)

	srv := server.New(*config, logger)
	cfg := srv.Config()

	logger.Info("Starting roomchat server",
		"addr", cfg.Port,
		"transport", cfg.Transport,
		"default_room", cfg.DefaultRoom,
		"allowed_origins", cfg.AllowedOrigins,
	)

	var stopHTTP func(ctx context.Context) error
	serveErr := make(chan error, 1)

	switch cfg.Transport {
	case server.TransportFiber:
		app := fiberapp.New(srv)
		go func() { serveErr <- app.Listen(cfg.Port) }()
		stopHTTP = app.Shutdown
	default:
		httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())
		go func() { serveErr <- server.StartServer(httpServer) }()
		stopHTTP = func(ctx context.Context) error {
			return server.ShutdownServer(httpServer, server.Remaining(ctx, cfg.ShutdownTimeout))
		}
	}

	go func() {
		if err := <-serveErr; err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				logger.Info("Graceful shutdown initiated...")
				var errs []error
				if err := srv.Shutdown(server.SocketShutdownBudget(ctx, cfg.ShutdownTimeout)); err != nil {
					errs = append(errs, err)
				}
				if err := stopHTTP(ctx); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited", "code", exitCode)
	os.Exit(exitCode)
}
