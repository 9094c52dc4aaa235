package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"sendmail-oauth2/internal/common/logging"
	"sendmail-oauth2/internal/config"
	"sendmail-oauth2/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()

	closer, err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closer.Close()
	defer logging.MustSync()

	logging.Info("Starting sendmail-oauth2", logging.Field{Key: "port", Value: cfg.Port})

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg, logging.GetGlobalLogger())
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	srv := server.New(app.Router(), cfg.Addr(), logging.GetGlobalLogger())
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	loginURL := fmt.Sprintf("http://localhost:%d/login", cfg.Port)
	logging.Info("Sign in to start sending", logging.Field{Key: "url", Value: loginURL})
	if cfg.OpenBrowser {
		if err := openBrowser(loginURL); err != nil {
			logging.Warn("Could not open a browser, visit the URL manually",
				logging.Field{Key: "url", Value: loginURL},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		logging.Info("Shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case serveErr = <-srv.Errors():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err.Error()})
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return serveErr
}
