package models

import "time"

// RollbackState is a recorded before/after snapshot of one executed
// mutating action plus the synthesized inverse that undoes it.
//
// A state is created once per successfully-executed action that reports
// a previous state, and never updated afterwards except for the
// RolledBack flag, which only transitions false -> true.
type RollbackState struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ActionID string `json:"action_id"`
	Command  string `json:"command"`
	Target   string `json:"target"`

	PreviousState map[string]interface{} `json:"previous_state"`
	NewState      map[string]interface{} `json:"new_state,omitempty"`

	RollbackCommand string                 `json:"rollback_command"`
	RollbackParams  map[string]interface{} `json:"rollback_params"`

	SessionID    string     `json:"session_id"`
	RolledBack   bool       `json:"rolled_back"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// RollbackGroup bundles the states recorded by one batch action so the
// whole batch can be undone in reverse application order.
type RollbackGroup struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	CreatedAt time.Time        `json:"created_at"`
	States    []*RollbackState `json:"states"`
	SessionID string           `json:"session_id"`
}
