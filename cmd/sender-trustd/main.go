package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/config"
	"github.com/mikey/sender-trust/internal/core"
	"github.com/mikey/sender-trust/internal/di"
	"github.com/mikey/sender-trust/internal/ports"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	frontend ports.Frontend,
	trust *core.TrustService,
	ai *core.AiService,
	cacheRepo core.SenderCacheRepository,
) error {
	defer logger.Sync()

	// Reconcile the persistent cache with the running version before
	// serving anything.
	if err := trust.InitCache(context.Background(), cfg.GetString("server.version")); err != nil {
		logger.Fatal("Failed to initialize sender cache", zap.Error(err))
		return err
	}

	// Warm the capability probe so the first /v1/analyze does not pay for
	// it.
	avail := ai.CheckAvailability(context.Background())
	logger.Info("AI capability",
		zap.Bool("available", avail.Available),
		zap.String("status", avail.Status))

	// Periodically expire stale cache entries. Reads already evict lazily;
	// this keeps entries for senders nobody looks up from accumulating.
	cleanupFreq, err := cfg.GetDuration("cache.cleanup_frequency")
	if err != nil {
		logger.Fatal("Invalid cache cleanup frequency", zap.Error(err))
		return err
	}
	ttl, err := cfg.GetDuration("cache.ttl")
	if err != nil {
		logger.Fatal("Invalid cache TTL", zap.Error(err))
		return err
	}
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cleanupFreq)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := cacheRepo.Cleanup(context.Background(), ttl); err != nil {
					logger.Warn("Cache cleanup failed", zap.Error(err))
				}
			case <-cleanupDone:
				return
			}
		}
	}()

	// Start the frontend
	if err := frontend.Start(); err != nil {
		logger.Fatal("Failed to start frontend", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")
	close(cleanupDone)

	// Stop the frontend
	if err := frontend.Stop(); err != nil {
		logger.Error("Failed to stop frontend", zap.Error(err))
	}

	// Release the model session and the result cache
	ai.Reset()

	// Close any resources that need closing
	if closer, ok := cacheRepo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close cache repository", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
