package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"broadcast-ops/backend/internal/api"
	"broadcast-ops/backend/internal/mcp"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(rt)
		},
	}
}

func newEcho(rt *runtime) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(rt.logger)

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("broadcast-ops"))

	health := api.NewHandler(rt.service)
	e.GET("/health", health.HandleHealth)
	e.GET("/ready", health.HandleReady)

	api.NewServer(rt.service).RegisterRoutes(e)
	rt.logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(rt.service)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	rt.logger.Info("MCP protocol handlers mounted")

	return e
}

func serve(rt *runtime) error {
	cfg := rt.cfg
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newEcho(rt),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		rt.logger.Info("Server starting", "address", cfg.Server.Addr, "storage", cfg.Storage.Driver)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		rt.logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			rt.logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				rt.logger.Error("Server close error", "error", err)
			}
		}

		rt.logger.Info("Server stopped gracefully")
	}
	return nil
}
