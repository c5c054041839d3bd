// Package pipeline is the single entry point every mutating action
// passes through: validation, preview gating, timeout-bounded
// execution, rollback recording, audit, and metrics.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/policy"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/preview"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/rollback"
)

// AuditPublisher receives pipeline lifecycle events. Implementations
// must not block; publishing is best-effort.
type AuditPublisher interface {
	PublishExecuted(result *models.ExecutionResult)
	PublishPreviewPending(p *models.ActionPreview)
	PublishRolledBack(stateID string, result *models.ExecutionResult)
}

// Options wires the pipeline's collaborators and knobs.
type Options struct {
	Previews *preview.Store
	Ledger   *rollback.Ledger
	Sandbox  policy.Sandbox

	Timeout         time.Duration // handler deadline (default 30s)
	SafeMode        bool          // gate approval-required actions behind previews
	RollbackEnabled bool
	MetricsEnabled  bool

	Events AuditPublisher // optional
}

// Pipeline coordinates the handler registry and drives the per-action
// state machine. It owns neither previews nor rollback states; it holds
// them by id and mutates them only through the owning component's API.
//
// Execute and its two derived entry points never panic past the entry:
// every failure, expected or not, is normalized into an ExecutionResult.
type Pipeline struct {
	registry *registry
	previews *preview.Store
	ledger   *rollback.Ledger
	sandbox  policy.Sandbox
	metrics  *Metrics
	events   AuditPublisher

	timeout         time.Duration
	safeMode        bool
	rollbackEnabled bool
	metricsEnabled  bool
}

// New builds an execution pipeline.
func New(opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Pipeline{
		registry:        newRegistry(),
		previews:        opts.Previews,
		ledger:          opts.Ledger,
		sandbox:         opts.Sandbox,
		metrics:         NewMetrics(),
		events:          opts.Events,
		timeout:         opts.Timeout,
		safeMode:        opts.SafeMode,
		rollbackEnabled: opts.RollbackEnabled,
		metricsEnabled:  opts.MetricsEnabled,
	}
}

// RegisterHandler registers a command handler, failing on duplicates.
func (p *Pipeline) RegisterHandler(command string, spec HandlerSpec) error {
	return p.registry.register(command, spec)
}

// Commands lists the registered command names.
func (p *Pipeline) Commands() []string {
	return p.registry.commands()
}

// Metrics exposes the pipeline counters for registration and stats.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Stats snapshots the running counters.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}

// Execute runs one mutating action through the full state machine:
// resolve handler, validate, gate behind a preview when approval is
// required, invoke under a deadline, record rollback state, audit, and
// count. The returned result is uniform for every outcome.
func (p *Pipeline) Execute(ctx context.Context, command string, params map[string]interface{}, ec models.ExecutionContext) (result *models.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Pipeline panic recovered for %s: %v", command, r)
			result = p.failure(command, ec, start,
				models.NewActionError(models.CodeExecutionError, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	spec, ok := p.registry.lookup(command)
	if !ok {
		return p.failure(command, ec, start,
			models.NewActionError(models.CodeNoHandler, fmt.Sprintf("no handler registered for command %s", command)).
				WithSuggestion("check the command name against the registered command list").
				Fatal())
	}

	target := extractTarget(params)

	if !ec.SkipValidation {
		decision, err := p.sandbox.ValidateAction(ctx, command, target, params, ec.SessionID)
		if err != nil {
			return p.failure(command, ec, start,
				models.NewActionError(models.CodeValidationFailed, fmt.Sprintf("validation error: %v", err)))
		}
		if !decision.Valid {
			return p.failure(command, ec, start,
				models.NewActionError(models.CodeValidationFailed, decision.Reason).
					WithSuggestion("adjust the action parameters or ask for the restriction to be lifted"))
		}

		if decision.RequiresApproval && p.safeMode && !ec.SafeModeOverride {
			pending, err := p.createPreview(ctx, command, params, spec, ec)
			if err != nil {
				return p.failure(command, ec, start, models.AsActionError(err))
			}
			if !pending.Approved {
				if p.events != nil {
					p.events.PublishPreviewPending(pending)
				}
				log.Printf("Action gated for approval: %s preview=%s risk=%s", command, pending.ID, pending.Risk.Level)
				return &models.ExecutionResult{
					Success:         true,
					RequestID:       ec.RequestID,
					Command:         command,
					Preview:         pending,
					ExecutionTimeMs: time.Since(start).Milliseconds(),
					Metadata: map[string]interface{}{
						"requiresApproval": true,
						"riskLevel":        pending.Risk.Level,
					},
				}
			}
			// Auto-approved: execute directly with the preview's params.
			params = pending.Params
		}
	}

	outcome, err := p.invokeHandler(ctx, spec.Handler, params, ec)
	if err != nil {
		p.sandbox.RecordAction(command, target, false, ec.SessionID)
		return p.failure(command, ec, start, models.AsActionError(err))
	}

	rollbackID := ""
	if p.rollbackEnabled && outcome != nil && len(outcome.PreviousState) > 0 {
		state := p.ledger.RecordState(ec.RequestID, command, target,
			outcome.PreviousState, outcome.NewState, ec.SessionID, p.explicitInverse(spec, target, outcome))
		rollbackID = state.ID
	}

	p.sandbox.RecordAction(command, target, true, ec.SessionID)

	result = &models.ExecutionResult{
		Success:         true,
		RequestID:       ec.RequestID,
		Command:         command,
		RollbackID:      rollbackID,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if outcome != nil {
		result.Result = outcome.Result
	}

	if p.metricsEnabled {
		p.metrics.Record(true, time.Since(start))
	}
	if p.events != nil {
		p.events.PublishExecuted(result)
	}
	return result
}

// ExecutePreview executes a previously approved preview and reports the
// outcome back to the preview store.
func (p *Pipeline) ExecutePreview(ctx context.Context, previewID string, ec models.ExecutionContext) *models.ExecutionResult {
	start := time.Now()

	pending, ok := p.previews.GetPreview(previewID)
	if !ok {
		return p.failure("execute_preview", ec, start,
			models.NewActionError(models.CodePreviewNotFound,
				fmt.Sprintf("preview %s not found or expired", previewID)).
				WithSuggestion("create a new preview for this action"))
	}
	if pending.Executed {
		return p.failure(pending.Command, ec, start,
			models.NewActionError(models.CodePreviewAlreadyExecuted,
				fmt.Sprintf("preview %s was already executed", previewID)))
	}
	if pending.Rejected {
		return p.failure(pending.Command, ec, start,
			models.NewActionError(models.CodePreviewRejected,
				fmt.Sprintf("preview %s was rejected", previewID)))
	}
	if !pending.Approved {
		return p.failure(pending.Command, ec, start,
			models.NewActionError(models.CodePreviewNotApproved,
				fmt.Sprintf("preview %s is awaiting approval", previewID)).
				WithSuggestion("approve the preview before executing it"))
	}

	// Re-enter the pipeline with the approval gate lifted; the preview
	// itself was the approval.
	ec.SafeModeOverride = true
	result := p.Execute(ctx, pending.Command, pending.Params, ec)

	errMsg := ""
	if result.Error != nil {
		errMsg = result.Error.Message
	}
	p.previews.MarkExecuted(previewID, result.Result, errMsg)

	result.Preview = pending
	return result
}

// RollbackAction undoes a recorded state by executing its synthesized
// inverse through the same pipeline, skipping validation since the
// forward action was already validated.
func (p *Pipeline) RollbackAction(ctx context.Context, rollbackID string, ec models.ExecutionContext) *models.ExecutionResult {
	start := time.Now()

	command, params, err := p.ledger.PrepareRollback(rollbackID)
	if err != nil {
		return p.failure("rollback_action", ec, start, models.AsActionError(err))
	}

	ec.SkipValidation = true
	result := p.Execute(ctx, command, params, ec)
	if result.Success {
		p.ledger.MarkRolledBack(rollbackID)
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["rolled_back_state"] = rollbackID
		if p.events != nil {
			p.events.PublishRolledBack(rollbackID, result)
		}
		log.Printf("Rolled back state %s via %s", rollbackID, command)
	}
	return result
}

// RollbackGroup undoes a batch in reverse application order. Execution
// stops at the first failed step so a partial undo is never silently
// skipped over.
func (p *Pipeline) RollbackGroup(ctx context.Context, groupID string, ec models.ExecutionContext) []*models.ExecutionResult {
	steps, err := p.ledger.PrepareGroupRollback(groupID)
	if err != nil {
		return []*models.ExecutionResult{
			p.failure("rollback_group", ec, time.Now(), models.AsActionError(err)),
		}
	}

	var results []*models.ExecutionResult
	for _, step := range steps {
		result := p.RollbackAction(ctx, step.StateID, ec)
		results = append(results, result)
		if !result.Success {
			break
		}
	}
	return results
}

// createPreview obtains a preview for a gated action, using the
// handler's registered analyzer or a generic single-change prediction
// inferred from the command name.
func (p *Pipeline) createPreview(ctx context.Context, command string, params map[string]interface{}, spec HandlerSpec, ec models.ExecutionContext) (*models.ActionPreview, error) {
	target := extractTarget(params)

	analyzer := func(ctx context.Context) ([]models.ChangePreview, error) {
		if spec.Analyzer != nil {
			return spec.Analyzer(ctx, params, ec)
		}
		changeType := spec.ChangeType
		if changeType == "" {
			changeType = inferChangeType(command)
		}
		return []models.ChangePreview{{
			Type:        changeType,
			Target:      target,
			Description: fmt.Sprintf("%s on %s", command, target),
		}}, nil
	}

	return p.previews.CreatePreview(ctx, command, params, analyzer, ec.SessionID, ec.UserID)
}

// invokeHandler races the handler against the configured deadline. The
// deadline is signaled through the context but a slow handler is never
// forcibly stopped; its late result is discarded.
func (p *Pipeline) invokeHandler(ctx context.Context, handler Handler, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
	hctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type reply struct {
		outcome *models.HandlerOutcome
		err     error
	}
	done := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		outcome, err := handler(hctx, params, ec)
		done <- reply{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-hctx.Done():
		return nil, models.NewActionError(models.CodeExecutionTimeout,
			fmt.Sprintf("command did not complete within %s", p.timeout)).
			WithSuggestion("the action may still complete in the engine; check its state before retrying")
	}
}

// explicitInverse translates registered inverse metadata into the
// ledger's explicit-inverse form; nil means heuristic synthesis.
func (p *Pipeline) explicitInverse(spec HandlerSpec, target string, outcome *models.HandlerOutcome) *rollback.ExplicitInverse {
	if spec.InverseCommand == "" && spec.InverseParams == nil {
		return nil
	}
	inverse := &rollback.ExplicitInverse{Command: spec.InverseCommand}
	if spec.InverseParams != nil {
		inverse.Params = spec.InverseParams(target, outcome.PreviousState)
	}
	return inverse
}

// failure normalizes any error into the uniform result shape and counts
// it.
func (p *Pipeline) failure(command string, ec models.ExecutionContext, start time.Time, actionErr *models.ActionError) *models.ExecutionResult {
	if p.metricsEnabled {
		p.metrics.Record(false, time.Since(start))
	}
	log.Printf("Action failed: %s [%s] %s", command, actionErr.Code, actionErr.Message)
	return &models.ExecutionResult{
		Success:         false,
		RequestID:       ec.RequestID,
		Command:         command,
		Error:           actionErr,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}
