package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/api"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/bridge"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/config"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/eventbus"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/handlers"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/pipeline"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/policy"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/preview"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/rollback"
)

// Orchestrator manages the agent service lifecycle: it wires the
// execution pipeline to its collaborators and runs the outer servers.
//
// Lifecycle:
//  1. Start() - builds the pipeline, connects NATS, prepares servers
//  2. Run()   - starts servers and blocks until context is cancelled
//  3. Stop()  - gracefully closes all connections and resources
//
// Graceful degradation: NATS is optional (no audit events when down),
// and the engine event channel reconnects on its own; only the
// pipeline itself is required.
type Orchestrator struct {
	config *config.Config

	// Core components
	pipe     *pipeline.Pipeline
	previews *preview.Store
	ledger   *rollback.Ledger

	// Engine connections
	engineClient *bridge.HTTPClient
	eventChannel *bridge.EventChannel

	// Downstream connections
	natsPublisher *eventbus.Publisher

	// Servers
	apiServer *api.Server
	registry  *prometheus.Registry
}

// NewOrchestrator creates a new Orchestrator instance with the provided
// configuration. Nothing is started until Start() is called.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		config: cfg,
	}
}

// Start wires the execution pipeline and prepares servers. Returns an
// error if any required component fails to initialize.
func (o *Orchestrator) Start() error {
	log.Printf("Starting agent orchestrator...")

	o.connectNATS() // Optional - warnings logged on failure

	if err := o.buildPipeline(); err != nil {
		return fmt.Errorf("failed to build execution pipeline: %w", err)
	}

	o.apiServer = api.NewServer(o.pipe, o.previews)

	o.registry = prometheus.NewRegistry()
	o.pipe.Metrics().Register(o.registry)

	log.Printf("Agent orchestrator started successfully")
	return nil
}

// connectNATS establishes the audit event connection. Failure logs a
// warning; the pipeline runs without lifecycle events.
func (o *Orchestrator) connectNATS() {
	log.Printf("Connecting to NATS at: %s", o.config.NatsURL)

	publisher, err := eventbus.NewPublisher(o.config.NatsURL)
	if err != nil {
		log.Printf("Warning: failed to connect to NATS: %v", err)
		log.Printf("Pipeline events will not be published")
		return
	}
	o.natsPublisher = publisher
}

func (o *Orchestrator) buildPipeline() error {
	rules, err := policy.LoadRuleSet(o.config.SafetyRulesPath)
	if err != nil {
		return err
	}
	sandbox := policy.NewRuleSandbox(rules)

	o.previews = preview.NewStore(preview.Options{
		MaxPending:           o.config.MaxPendingPreviews,
		TTL:                  time.Duration(o.config.PreviewTTLSeconds) * time.Second,
		AutoApproveThreshold: models.ParseRiskLevel(o.config.AutoApproveThreshold),
	})
	o.ledger = rollback.NewLedger(rollback.Options{
		MaxEntries: o.config.RollbackMaxEntries,
		MaxAge:     time.Duration(o.config.RollbackMaxAgeHours) * time.Hour,
	})

	var events pipeline.AuditPublisher
	if o.natsPublisher != nil {
		events = o.natsPublisher
	}

	o.pipe = pipeline.New(pipeline.Options{
		Previews:        o.previews,
		Ledger:          o.ledger,
		Sandbox:         sandbox,
		Timeout:         time.Duration(o.config.ExecutionTimeoutSeconds) * time.Second,
		SafeMode:        o.config.SafeModeEnabled,
		RollbackEnabled: o.config.RollbackEnabled,
		MetricsEnabled:  o.config.MetricsEnabled,
		Events:          events,
	})

	o.engineClient = bridge.NewHTTPClient(o.config.EngineHTTPURL,
		time.Duration(o.config.ExecutionTimeoutSeconds)*time.Second)
	o.eventChannel = bridge.NewEventChannel(o.config.EngineWSURL)

	if err := handlers.RegisterAll(o.pipe, o.engineClient); err != nil {
		return err
	}
	log.Printf("Registered %d command handlers", len(o.pipe.Commands()))
	return nil
}

// Pipeline exposes the execution pipeline for in-process callers.
func (o *Orchestrator) Pipeline() *pipeline.Pipeline {
	return o.pipe
}

// Registry exposes the prometheus registry for the health server.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// Run starts the servers and sweepers and blocks until the context is
// cancelled or a server fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("Starting servers...")

	o.previews.StartSweeper(time.Duration(o.config.PreviewSweepSeconds) * time.Second)
	o.ledger.StartSweeper(time.Duration(o.config.RollbackSweepSeconds) * time.Second)
	o.eventChannel.Start()

	apiErrChan := make(chan error, 1)
	go func() {
		addr := ":" + o.config.APIPort
		log.Printf("API server listening on port %s", o.config.APIPort)
		if err := o.apiServer.Start(addr); err != nil {
			apiErrChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	log.Printf("Agent ready - %d commands registered", len(o.pipe.Commands()))

	select {
	case <-ctx.Done():
		log.Printf("Shutdown signal received")
		return ctx.Err()
	case err := <-apiErrChan:
		return err
	}
}

// Stop gracefully closes all connections and releases resources.
func (o *Orchestrator) Stop() error {
	log.Printf("Stopping orchestrator...")

	if o.apiServer != nil {
		if err := o.apiServer.Stop(); err != nil {
			log.Printf("Error stopping API server: %v", err)
		}
	}

	if o.eventChannel != nil {
		o.eventChannel.Close()
	}

	if o.previews != nil {
		o.previews.Stop()
	}
	if o.ledger != nil {
		o.ledger.Stop()
	}

	if o.natsPublisher != nil {
		o.natsPublisher.Close()
	}

	log.Printf("Orchestrator stopped successfully")
	return nil
}
