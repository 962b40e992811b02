package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SkynetNext/localipc/internal/config"
	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"github.com/SkynetNext/localipc/internal/server"
	"github.com/SkynetNext/localipc/internal/tracing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveConfigPath string
	serveSocket     string
	reloadInterval  time.Duration
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to the configuration file (defaults apply when empty).")
	serveCmd.Flags().StringVarP(&serveSocket, "socket", "s", "", "Override server.socket_path.")
	serveCmd.Flags().DurationVar(&reloadInterval, "reload-interval", 10*time.Second, "How often the configuration file is checked for changes, 0 disables.")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the daemon until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func loadConfig() (*config.Config, error) {
	if serveConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(serveConfigPath)
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveSocket != "" {
		cfg.Server.SocketPath = serveSocket
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := tracing.Init("ipcd", version, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio); err != nil {
		logger.L.Warn("Failed to initialize tracing", zap.Error(err))
	} else if cfg.Tracing.Endpoint != "" {
		logger.L.Info("Tracing initialized", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if serveConfigPath != "" && reloadInterval > 0 {
		reloader := config.NewHotReloadManager(cfg, srv.UpdateConfig)
		reloader.OnError(func(err error) {
			metrics.ConfigReloadErrors.Inc()
			logger.L.Warn("Configuration reload rejected", zap.Error(err))
		})
		go reloader.WatchConfigFile(ctx, serveConfigPath, reloadInterval)
	}

	logger.L.Info("ipcd started successfully",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.Int("pid", os.Getpid()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.L.Info("Received stop signal, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Error during server shutdown", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("Error during tracing shutdown", zap.Error(err))
	}

	logger.L.Info("ipcd closed")
	return nil
}
