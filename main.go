package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskforge/warden/internal/config"
	"github.com/taskforge/warden/internal/policy"
	"github.com/taskforge/warden/internal/repository"
	"github.com/taskforge/warden/internal/service"
	"github.com/taskforge/warden/internal/stream"
	transport "github.com/taskforge/warden/internal/transport/http"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting warden supervisor...")
	log.Printf("Worker HTTP Port: %d", cfg.WorkerPort)
	log.Printf("Consumer HTTP Port: %d", cfg.ConsumerPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Heartbeat interval: %s (stale after %s)", cfg.HeartbeatInterval, cfg.StaleTimeout())

	// Initialize store
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	// Initialize stream hub
	hub := stream.NewHub(cfg.EmitQueueSize)

	// Initialize reap policy engine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize service
	svc := service.New(store, hub, cfg, policyEngine, nil)

	// Create servers
	workerServer := transport.NewWorkerServer(svc)
	consumerServer := transport.NewConsumerServer(svc)

	// Start retention archiver
	archiver, err := svc.StartArchiver()
	if err != nil {
		log.Fatalf("Failed to start archiver: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.WorkerPort)
		if err := workerServer.Start(addr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("worker server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.ConsumerPort)
		if err := consumerServer.Start(addr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("consumer server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc.RunReaper(gctx)
		return nil
	})

	log.Printf("Worker API started on port %d", cfg.WorkerPort)
	log.Printf("Consumer API started on port %d", cfg.ConsumerPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-gctx.Done():
	}

	log.Println("Shutting down supervisor...")

	archiverCtx := archiver.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := workerServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown worker server gracefully: %v", err)
	}
	if err := consumerServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown consumer server gracefully: %v", err)
	}

	// Stop the reaper and wait for server goroutines
	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
	}

	// Let an in-flight archive sweep finish
	select {
	case <-archiverCtx.Done():
	case <-shutdownCtx.Done():
	}

	log.Println("Supervisor stopped")
}
