package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
)

// Handler performs the actual mutation against the engine for one
// command. Handlers must tolerate their result being discarded after a
// reported timeout: the pipeline signals cancellation through the
// context but never forcibly stops a handler, so side effects may still
// occur.
type Handler func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error)

// ChangeAnalyzer predicts a command's effects without executing it. It
// may call out to the engine.
type ChangeAnalyzer func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) ([]models.ChangePreview, error)

// InverseParamsFunc builds the parameters that undo an executed command
// from its target and recorded previous state.
type InverseParamsFunc func(target string, previousState map[string]interface{}) map[string]interface{}

// HandlerSpec registers a handler together with optional declarative
// metadata. When metadata is absent the pipeline falls back to
// command-name heuristics (substring-based change-type inference and
// inverse synthesis).
type HandlerSpec struct {
	Handler Handler

	// ChangeType of the generic preview when no Analyzer is set.
	ChangeType models.ChangeType
	// Analyzer produces the preview's predicted changes.
	Analyzer ChangeAnalyzer

	// InverseCommand and InverseParams describe how to undo the
	// command; when set they bypass the rollback ledger's heuristics.
	InverseCommand string
	InverseParams  InverseParamsFunc
}

type registry struct {
	mu    sync.RWMutex
	specs map[string]HandlerSpec
}

func newRegistry() *registry {
	return &registry{specs: map[string]HandlerSpec{}}
}

func (r *registry) register(command string, spec HandlerSpec) error {
	if command == "" {
		return fmt.Errorf("command name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("handler is required for command %s", command)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[command]; exists {
		return fmt.Errorf("handler already registered for command %s", command)
	}
	r.specs[command] = spec

	if spec.InverseCommand == "" && spec.InverseParams == nil {
		log.Printf("Handler registered: %s (no inverse metadata, heuristic rollback synthesis)", command)
	} else {
		log.Printf("Handler registered: %s", command)
	}
	return nil
}

func (r *registry) lookup(command string) (HandlerSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[command]
	return spec, ok
}

func (r *registry) commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// targetParamKeys is the priority list of well-known parameter names
// the target identifier is extracted from, first present wins.
var targetParamKeys = []string{
	"actorName",
	"actor_name",
	"name",
	"blueprintName",
	"assetPath",
	"asset_path",
	"objectPath",
	"path",
	"target",
}

// extractTarget pulls the action's target identifier out of its params.
func extractTarget(params map[string]interface{}) string {
	for _, key := range targetParamKeys {
		if value, ok := params[key]; ok {
			if s, ok := value.(string); ok && s != "" {
				return s
			}
		}
	}
	return "unknown"
}

// inferChangeType guesses a change type from the command name when the
// handler registered no explicit one.
func inferChangeType(command string) models.ChangeType {
	lower := strings.ToLower(command)
	switch {
	case strings.Contains(lower, "create"), strings.Contains(lower, "spawn"), strings.Contains(lower, "add"):
		return models.ChangeCreate
	case strings.Contains(lower, "delete"), strings.Contains(lower, "remove"), strings.Contains(lower, "destroy"):
		return models.ChangeDelete
	case strings.Contains(lower, "move"):
		return models.ChangeMove
	default:
		return models.ChangeModify
	}
}
