package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormcells-viz/server/internal/api"
	"github.com/wormcells-viz/server/internal/config"
	"github.com/wormcells-viz/server/internal/logging"
)

var (
	servePort   int
	serveStores storeFlags
	logLevel    string
	logFile     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the configured datasets and serve the HTTP API",
	Long: `Load the configured datasets and serve the HTTP API.

Store paths given on the command line replace those of the default dataset.

Examples:
  wormcells-server serve --config config/server.yaml
  wormcells-server serve -e heatmap.zarr -i histogram.zarr -s swarm.zarr -p 5000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	f.StringVarP(&serveStores.heatmap, "heatmap-file", "e", "", "Heatmap store (zarr directory or csv)")
	f.StringVarP(&serveStores.histogram, "histogram-file", "i", "", "Histogram store")
	f.StringVarP(&serveStores.swarm, "swarmplot-file", "s", "", "Swarm plot store")
	f.StringVar(&serveStores.annotations, "annotations", "", "Gene annotation database")
	f.StringVarP(&logLevel, "log-level", "L", "", "Log level: debug, info, warn, error")
	f.StringVarP(&logFile, "log-file", "l", "", "Write logs to this file instead of stderr")
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(stores storeFlags) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	stores.apply(cfg)
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveStores)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting server", zap.Int("port", cfg.Server.Port), zap.String("config", configPath))

	ctx := context.Background()
	svcs, err := loadServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svcs.Close()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    svcs.registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
