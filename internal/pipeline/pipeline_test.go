package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/clock"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/policy"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/preview"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/rollback"
)

type auditRecord struct {
	command string
	target  string
	success bool
}

// fakeSandbox gives the tests direct control over validation decisions
// and records every audit call.
type fakeSandbox struct {
	mu              sync.Mutex
	blocked         map[string]string
	requireApproval map[string]bool
	records         []auditRecord
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		blocked:         map[string]string{},
		requireApproval: map[string]bool{},
	}
}

func (s *fakeSandbox) ValidateAction(ctx context.Context, command, target string, params map[string]interface{}, sessionID string) (policy.Decision, error) {
	if reason, ok := s.blocked[command]; ok {
		return policy.Decision{Valid: false, Reason: reason}, nil
	}
	return policy.Decision{Valid: true, RequiresApproval: s.requireApproval[command]}, nil
}

func (s *fakeSandbox) RecordAction(command, target string, success bool, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, auditRecord{command: command, target: target, success: success})
}

func (s *fakeSandbox) recorded() []auditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auditRecord, len(s.records))
	copy(out, s.records)
	return out
}

type fakePublisher struct {
	mu         sync.Mutex
	executed   []*models.ExecutionResult
	pending    []*models.ActionPreview
	rolledBack []string
}

func (p *fakePublisher) PublishExecuted(result *models.ExecutionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed = append(p.executed, result)
}

func (p *fakePublisher) PublishPreviewPending(preview *models.ActionPreview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, preview)
}

func (p *fakePublisher) PublishRolledBack(stateID string, result *models.ExecutionResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolledBack = append(p.rolledBack, stateID)
}

type testEnv struct {
	pipe     *Pipeline
	previews *preview.Store
	ledger   *rollback.Ledger
	sandbox  *fakeSandbox
	events   *fakePublisher
	manual   *clock.Manual
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	manual := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	previews := preview.NewStore(preview.Options{
		TTL:   time.Minute,
		Clock: manual,
	})
	t.Cleanup(previews.Stop)

	ledger := rollback.NewLedger(rollback.Options{Clock: manual})
	t.Cleanup(ledger.Stop)

	sandbox := newFakeSandbox()
	events := &fakePublisher{}

	opts := Options{
		Previews:        previews,
		Ledger:          ledger,
		Sandbox:         sandbox,
		SafeMode:        true,
		RollbackEnabled: true,
		MetricsEnabled:  true,
		Events:          events,
	}
	if mutate != nil {
		mutate(&opts)
	}

	return &testEnv{
		pipe:     New(opts),
		previews: previews,
		ledger:   ledger,
		sandbox:  sandbox,
		events:   events,
		manual:   manual,
	}
}

func testEC() models.ExecutionContext {
	return models.ExecutionContext{SessionID: "session-1", UserID: "user-1", RequestID: "req-1"}
}

func spawnSpec() HandlerSpec {
	return HandlerSpec{
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			return &models.HandlerOutcome{
				Result: map[string]interface{}{"spawned": params["actorName"]},
			}, nil
		},
		ChangeType: models.ChangeCreate,
	}
}

func deleteSpec() HandlerSpec {
	return HandlerSpec{
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			return &models.HandlerOutcome{
				Result:        map[string]interface{}{"deleted": true},
				PreviousState: map[string]interface{}{"class": "BP_Crate", "health": 100},
			}, nil
		},
		ChangeType: models.ChangeDelete,
	}
}

func TestExecute_SuccessWithoutPreviousState(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("spawn_actor", spawnSpec()))

	result := env.pipe.Execute(context.Background(), "spawn_actor",
		map[string]interface{}{"actorName": "Crate_1"}, testEC())

	require.True(t, result.Success)
	assert.Empty(t, result.RollbackID)
	assert.Equal(t, "Crate_1", result.Result["spawned"])
	assert.Equal(t, "req-1", result.RequestID)

	records := env.sandbox.recorded()
	require.Len(t, records, 1)
	assert.True(t, records[0].success)
	assert.Equal(t, "Crate_1", records[0].target)

	env.events.mu.Lock()
	defer env.events.mu.Unlock()
	assert.Len(t, env.events.executed, 1)
}

func TestExecute_RecordsRollbackStateWhenPreviousStateCaptured(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", deleteSpec()))

	ec := testEC()
	ec.SkipValidation = true
	result := env.pipe.Execute(context.Background(), "delete_actor",
		map[string]interface{}{"actorName": "Crate_1"}, ec)

	require.True(t, result.Success)
	require.NotEmpty(t, result.RollbackID)
	assert.True(t, env.ledger.CanRollback(result.RollbackID))
}

func TestExecute_NoHandlerIsFatal(t *testing.T) {
	env := newTestEnv(t, nil)

	result := env.pipe.Execute(context.Background(), "teleport_actor", nil, testEC())

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.CodeNoHandler, result.Error.Code)
	assert.False(t, result.Error.Recoverable)
}

func TestExecute_BlockedCommandFailsValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("wipe_level", spawnSpec()))
	env.sandbox.blocked["wipe_level"] = "wipe operations are never allowed remotely"

	result := env.pipe.Execute(context.Background(), "wipe_level",
		map[string]interface{}{"name": "MainLevel"}, testEC())

	require.False(t, result.Success)
	assert.Equal(t, models.CodeValidationFailed, result.Error.Code)
	assert.Contains(t, result.Error.Message, "never allowed")
	// Validation failures never reach the audit hook.
	assert.Empty(t, env.sandbox.recorded())
}

func TestExecute_GatesApprovalRequiredAction(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", deleteSpec()))
	env.sandbox.requireApproval["delete_actor"] = true

	result := env.pipe.Execute(context.Background(), "delete_actor",
		map[string]interface{}{"actorName": "Crate_1"}, testEC())

	require.True(t, result.Success)
	require.NotNil(t, result.Preview)
	assert.False(t, result.Preview.Approved)
	assert.Equal(t, true, result.Metadata["requiresApproval"])
	assert.Empty(t, result.RollbackID)

	// The handler never ran; nothing was audited or counted.
	assert.Empty(t, env.sandbox.recorded())
	assert.Equal(t, int64(0), env.pipe.Stats().TotalExecutions)

	env.events.mu.Lock()
	defer env.events.mu.Unlock()
	require.Len(t, env.events.pending, 1)
	assert.Equal(t, result.Preview.ID, env.events.pending[0].ID)
}

func TestExecute_AutoApprovedPreviewRunsImmediately(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.Previews = preview.NewStore(preview.Options{
			TTL:              time.Minute,
			ApprovalRequired: []string{"never_matches"},
		})
	})
	require.NoError(t, env.pipe.RegisterHandler("spawn_actor", spawnSpec()))
	env.sandbox.requireApproval["spawn_actor"] = true

	result := env.pipe.Execute(context.Background(), "spawn_actor",
		map[string]interface{}{"actorName": "Crate_1"}, testEC())

	require.True(t, result.Success)
	assert.Nil(t, result.Preview)
	assert.Equal(t, "Crate_1", result.Result["spawned"])
}

func TestExecutePreview_FullApprovalFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", deleteSpec()))
	env.sandbox.requireApproval["delete_actor"] = true

	gated := env.pipe.Execute(context.Background(), "delete_actor",
		map[string]interface{}{"actorName": "Crate_1"}, testEC())
	require.NotNil(t, gated.Preview)

	_, err := env.previews.ApprovePreview(preview.ApprovalRequest{
		PreviewID:  gated.Preview.ID,
		ApprovedBy: "user-1",
	})
	require.NoError(t, err)

	result := env.pipe.ExecutePreview(context.Background(), gated.Preview.ID, testEC())
	require.True(t, result.Success)
	assert.NotEmpty(t, result.RollbackID)

	stored, ok := env.previews.GetPreview(gated.Preview.ID)
	require.True(t, ok)
	assert.True(t, stored.Executed)

	// Executed previews are terminal.
	again := env.pipe.ExecutePreview(context.Background(), gated.Preview.ID, testEC())
	require.False(t, again.Success)
	assert.Equal(t, models.CodePreviewAlreadyExecuted, again.Error.Code)
}

func TestExecutePreview_UnapprovedAndExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", deleteSpec()))
	env.sandbox.requireApproval["delete_actor"] = true

	gated := env.pipe.Execute(context.Background(), "delete_actor",
		map[string]interface{}{"actorName": "Crate_1"}, testEC())
	require.NotNil(t, gated.Preview)

	result := env.pipe.ExecutePreview(context.Background(), gated.Preview.ID, testEC())
	require.False(t, result.Success)
	assert.Equal(t, models.CodePreviewNotApproved, result.Error.Code)

	env.manual.Advance(2 * time.Minute)
	result = env.pipe.ExecutePreview(context.Background(), gated.Preview.ID, testEC())
	require.False(t, result.Success)
	assert.Equal(t, models.CodePreviewNotFound, result.Error.Code)
}

func TestExecutePreview_RejectedIsTerminal(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", deleteSpec()))
	env.sandbox.requireApproval["delete_actor"] = true

	gated := env.pipe.Execute(context.Background(), "delete_actor",
		map[string]interface{}{"actorName": "Crate_1"}, testEC())
	require.NotNil(t, gated.Preview)

	require.NoError(t, env.previews.RejectPreview(gated.Preview.ID, "user-1", "too risky"))

	result := env.pipe.ExecutePreview(context.Background(), gated.Preview.ID, testEC())
	require.False(t, result.Success)
	assert.Equal(t, models.CodePreviewRejected, result.Error.Code)
}

func TestRollbackAction_UndoesAndMarksState(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", deleteSpec()))
	require.NoError(t, env.pipe.RegisterHandler("spawn_actor", spawnSpec()))

	ec := testEC()
	ec.SkipValidation = true
	forward := env.pipe.Execute(context.Background(), "delete_actor",
		map[string]interface{}{"actorName": "Crate_1"}, ec)
	require.True(t, forward.Success)
	require.NotEmpty(t, forward.RollbackID)

	undo := env.pipe.RollbackAction(context.Background(), forward.RollbackID, testEC())
	require.True(t, undo.Success)
	assert.Equal(t, "spawn_actor", undo.Command)
	assert.Equal(t, forward.RollbackID, undo.Metadata["rolled_back_state"])
	assert.False(t, env.ledger.CanRollback(forward.RollbackID))

	env.events.mu.Lock()
	rolledBack := len(env.events.rolledBack)
	env.events.mu.Unlock()
	assert.Equal(t, 1, rolledBack)

	// A second rollback of the same state is refused.
	again := env.pipe.RollbackAction(context.Background(), forward.RollbackID, testEC())
	require.False(t, again.Success)
	assert.Equal(t, models.CodeRollbackNotAvailable, again.Error.Code)
}

func TestRollbackGroup_ReverseOrderStopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	var undone []string
	undoSpec := HandlerSpec{
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			name, _ := params["actorName"].(string)
			mu.Lock()
			undone = append(undone, name)
			mu.Unlock()
			if name == "Hut_0" {
				return nil, fmt.Errorf("engine unreachable")
			}
			return &models.HandlerOutcome{}, nil
		},
	}
	require.NoError(t, env.pipe.RegisterHandler("delete_actor", undoSpec))

	group := env.ledger.CreateGroup("spawn village", "session-1")
	for i := 0; i < 3; i++ {
		state := env.ledger.RecordState(fmt.Sprintf("req-%d", i), "spawn_actor",
			fmt.Sprintf("Hut_%d", i), map[string]interface{}{"n": i}, nil, "session-1", nil)
		require.NoError(t, env.ledger.AppendToGroup(group.ID, state.ID))
		env.manual.Advance(time.Second)
	}

	results := env.pipe.RollbackGroup(context.Background(), group.ID, testEC())

	// Hut_2 and Hut_1 undo cleanly; Hut_0 fails and the batch stops there.
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.Equal(t, []string{"Hut_2", "Hut_1", "Hut_0"}, undone)
}

func TestInvokeHandler_TimeoutIsRecoverable(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.Timeout = 50 * time.Millisecond
	})
	slowSpec := HandlerSpec{
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			<-ctx.Done()
			return &models.HandlerOutcome{}, nil
		},
	}
	require.NoError(t, env.pipe.RegisterHandler("slow_op", slowSpec))

	result := env.pipe.Execute(context.Background(), "slow_op", nil, testEC())

	require.False(t, result.Success)
	assert.Equal(t, models.CodeExecutionTimeout, result.Error.Code)
	assert.True(t, result.Error.Recoverable)
	assert.NotEmpty(t, result.Error.Suggestion)
}

func TestExecute_HandlerErrorIsAudited(t *testing.T) {
	env := newTestEnv(t, nil)
	failSpec := HandlerSpec{
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			return nil, models.NewActionError(models.CodeTargetNotFound, "actor Crate_9 not found").
				WithSuggestion("list actors to find the right name")
		},
	}
	require.NoError(t, env.pipe.RegisterHandler("modify_actor", failSpec))

	result := env.pipe.Execute(context.Background(), "modify_actor",
		map[string]interface{}{"actorName": "Crate_9"}, testEC())

	require.False(t, result.Success)
	assert.Equal(t, models.CodeTargetNotFound, result.Error.Code)

	records := env.sandbox.recorded()
	require.Len(t, records, 1)
	assert.False(t, records[0].success)
}

func TestExecute_HandlerPanicBecomesFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	panicSpec := HandlerSpec{
		Handler: func(ctx context.Context, params map[string]interface{}, ec models.ExecutionContext) (*models.HandlerOutcome, error) {
			panic("nil map write")
		},
	}
	require.NoError(t, env.pipe.RegisterHandler("bad_op", panicSpec))

	var result *models.ExecutionResult
	assert.NotPanics(t, func() {
		result = env.pipe.Execute(context.Background(), "bad_op", nil, testEC())
	})
	require.False(t, result.Success)
	assert.Equal(t, models.CodeExecutionError, result.Error.Code)
	assert.Contains(t, result.Error.Message, "panic")
}

func TestStats_CountsSuccessesAndFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("spawn_actor", spawnSpec()))

	params := map[string]interface{}{"actorName": "Crate_1"}
	for i := 0; i < 3; i++ {
		require.True(t, env.pipe.Execute(context.Background(), "spawn_actor", params, testEC()).Success)
	}
	require.False(t, env.pipe.Execute(context.Background(), "no_such_op", nil, testEC()).Success)

	stats := env.pipe.Stats()
	assert.Equal(t, int64(4), stats.TotalExecutions)
	assert.Equal(t, int64(3), stats.Successes)
	assert.Equal(t, int64(1), stats.Failures)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.01)
}

func TestRegisterHandler_RejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.pipe.RegisterHandler("spawn_actor", spawnSpec()))
	err := env.pipe.RegisterHandler("spawn_actor", spawnSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestExtractTarget_PriorityOrder(t *testing.T) {
	assert.Equal(t, "Crate_1", extractTarget(map[string]interface{}{
		"actorName": "Crate_1",
		"name":      "shadowed",
	}))
	assert.Equal(t, "/Game/Maps/Main", extractTarget(map[string]interface{}{
		"path": "/Game/Maps/Main",
	}))
	assert.Equal(t, "unknown", extractTarget(map[string]interface{}{"count": 3}))
	assert.Equal(t, "unknown", extractTarget(nil))
}
