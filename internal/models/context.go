package models

// ExecutionContext carries per-request caller information through the
// pipeline. It is passed by value and never mutated by the pipeline;
// handlers and collaborators may read it.
type ExecutionContext struct {
	SessionID        string                 `json:"session_id"`
	UserID           string                 `json:"user_id,omitempty"`
	RequestID        string                 `json:"request_id"`
	SafeModeOverride bool                   `json:"safe_mode_override,omitempty"`
	SkipValidation   bool                   `json:"skip_validation,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// HandlerOutcome is what a command handler reports back to the
// pipeline. PreviousState, when present, makes the action reversible:
// the pipeline records it in the rollback ledger.
type HandlerOutcome struct {
	Result        map[string]interface{}
	PreviousState map[string]interface{}
	NewState      map[string]interface{}
}

// ExecutionResult is the single return shape for every pipeline entry
// point (execute, execute-preview, rollback-action) so callers never
// need to distinguish code paths.
type ExecutionResult struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Command   string `json:"command"`

	Result map[string]interface{} `json:"result,omitempty"`
	Error  *ActionError           `json:"error,omitempty"`

	// Preview is attached when the action was gated instead of
	// executed; the caller must approve it and re-submit via the
	// preview-execution entry point.
	Preview *ActionPreview `json:"preview,omitempty"`

	// RollbackID references the recorded rollback state, when the
	// action was reversible.
	RollbackID string `json:"rollback_id,omitempty"`

	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}
