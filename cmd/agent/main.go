package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/config"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/health"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/orchestrator"
)

// main is the entry point for the agent service.
//
// The agent is responsible for:
//   - Running the safety-gated execution pipeline for engine commands
//   - Gating risky actions behind previews and approvals
//   - Recording rollback states so executed actions can be undone
//   - Publishing action lifecycle events to NATS for dashboards
//   - Providing the HTTP approval/rollback API
//
// Lifecycle:
//  1. Load configuration from environment variables
//  2. Build the pipeline, engine clients, and servers
//  3. Start the health/metrics server
//  4. Start the API server and engine event channel
//  5. Listen for shutdown signals (SIGINT, SIGTERM)
//  6. Gracefully close all connections on shutdown
func main() {
	log.Printf("Aegis agent starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded successfully")
	log.Printf("  API Port: %s", cfg.APIPort)
	log.Printf("  Health Port: %s", cfg.HealthPort)
	log.Printf("  NATS URL: %s", cfg.NatsURL)
	log.Printf("  Engine HTTP: %s", cfg.EngineHTTPURL)
	log.Printf("  Engine WS: %s", cfg.EngineWSURL)
	log.Printf("  Safe Mode Enabled: %v", cfg.SafeModeEnabled)
	log.Printf("  Rollback Enabled: %v", cfg.RollbackEnabled)
	log.Printf("  Execution Timeout: %ds", cfg.ExecutionTimeoutSeconds)

	orch := orchestrator.NewOrchestrator(cfg)

	if err := orch.Start(); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	health.StartHealthCheckServer(cfg.HealthPort, orch.Registry())

	go func() {
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Orchestrator error: %v", err)
		}
	}()

	<-sigChan
	log.Printf("Shutdown signal received, initiating graceful shutdown...")

	cancel()

	if err := orch.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Printf("Agent stopped successfully")
}
