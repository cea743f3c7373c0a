package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdant-io/verdant/internal/config"
	"github.com/verdant-io/verdant/internal/server"
	"github.com/verdant-io/verdant/internal/web"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the server (default when no subcommand is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath := resolveConfigPath(cmd, args, "verdant-config.json")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Optional HTTP/WebSocket surface.
	var webSrv *web.Server
	if cfg.Web.Addr != "" {
		webSrv = web.New(cfg.Web.Addr, srv, logger)
		go func() {
			if err := webSrv.ListenAndServe(); err != nil {
				logger.Error("http server error", "error", err)
				cancel()
			}
		}()
	}

	logger.Info("verdant starting", "version", version, "config", configPath)

	err = srv.Run(ctx)

	if webSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = webSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if err != nil && err != context.Canceled {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
