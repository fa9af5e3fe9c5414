package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"landrecord-extractor/internal/app"
	"landrecord-extractor/internal/types"
	"landrecord-extractor/server"
)

func main() {
	logger := app.NewLogger(false)

	// Get port from environment variable, default to 8080
	serverPort := "8080"
	if envPort := os.Getenv("API_PORT"); envPort != "" {
		serverPort = envPort
		fmt.Printf("Using port from environment variable API_PORT: %s\n", serverPort)
	} else {
		fmt.Printf("No API_PORT environment variable found, using default: %s\n", serverPort)
	}

	a, err := app.New(os.Getenv("LANDRECORD_CONFIG"), types.DefaultConfig(), logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	srv := server.NewServer(a.Portals(), a.Run, a.Metrics.Registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + serverPort)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("API server failed: %v", err)
		}
		return
	case <-ctx.Done():
	}

	logger.Info("Shutting down, cancelling active runs")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown did not complete cleanly: %v", err)
	}
}
