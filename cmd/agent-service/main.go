package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/opticrew/fieldsync/internal/agent/backend"
	"github.com/opticrew/fieldsync/internal/agent/handler"
	"github.com/opticrew/fieldsync/internal/agent/router"
	"github.com/opticrew/fieldsync/internal/agent/session"
	"github.com/opticrew/fieldsync/internal/config"
	"github.com/opticrew/fieldsync/shared/logger"
	"github.com/opticrew/fieldsync/shared/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("AGENT_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/agent-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAgentConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting crew agent service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Open the on-device store
	dbClient, err := sqlite.NewClient(&sqlite.Config{
		Path:        cfg.Local.Path,
		BusyTimeout: cfg.Local.BusyTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}

	appLogger.Info("Local store opened",
		slog.String("path", cfg.Local.Path),
	)

	// Backend of record client
	backendClient, err := backend.NewClient(&backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		AuthToken: cfg.Backend.AuthToken,
		Timeout:   cfg.Backend.Timeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	// Build the crew member's session
	sess, err := session.New(&session.Config{
		UserID:             cfg.Agent.UserID,
		DB:                 dbClient.GetDB(),
		Backend:            backendClient,
		Logger:             appLogger.Logger,
		ChecklistValidity:  cfg.Agent.ChecklistValidity,
		ReattestOnRevision: cfg.Agent.ReattestOnRevision,
		PollInterval:       cfg.Agent.PollInterval,
		DrainInterval:      cfg.Agent.DrainInterval,
		DrainMaxAttempts:   cfg.Agent.DrainMaxAttempts,
		DrainTimeout:       cfg.Agent.DrainTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess.Start(ctx)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, sess)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Crew agent service is running",
		slog.String("address", addr),
		slog.String("user_id", cfg.Agent.UserID),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		shutdownCancel()
		cancel()
		sess.Close()
		if dbClient != nil {
			dbClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, sess *session.Session) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:  logger,
		Session: sess,
	}

	return router.SetupRouter(handlerDeps)
}
