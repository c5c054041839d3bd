// Package policy decides whether an action is allowed and whether it
// requires approval. The pipeline consumes it only through the Sandbox
// interface and never makes semantic permission decisions itself.
package policy

import (
	"context"
	"log"
	"sync"
	"time"
)

// Decision is the outcome of validating a proposed action.
type Decision struct {
	Valid            bool   `json:"valid"`
	Reason           string `json:"reason,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
}

// Sandbox is the narrow contract the execution pipeline consumes.
type Sandbox interface {
	// ValidateAction reports whether the action may proceed and
	// whether it must be gated behind an approval step.
	ValidateAction(ctx context.Context, command, target string, params map[string]interface{}, sessionID string) (Decision, error)

	// RecordAction is the fire-and-forget audit hook called after
	// every execution attempt.
	RecordAction(command, target string, success bool, sessionID string)
}

// AuditEntry is one recorded execution attempt.
type AuditEntry struct {
	Command   string    `json:"command"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// maxAuditEntries bounds the per-session audit trail.
const maxAuditEntries = 500

// RuleSandbox validates actions against the loaded rule set and keeps
// an in-memory per-session audit trail.
type RuleSandbox struct {
	rules *RuleSet

	mu    sync.Mutex
	audit map[string][]AuditEntry
}

// NewRuleSandbox builds a sandbox over a rule set. A nil rule set uses
// the defaults.
func NewRuleSandbox(rules *RuleSet) *RuleSandbox {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &RuleSandbox{
		rules: rules,
		audit: map[string][]AuditEntry{},
	}
}

// ValidateAction implements Sandbox.
func (s *RuleSandbox) ValidateAction(ctx context.Context, command, target string, params map[string]interface{}, sessionID string) (Decision, error) {
	if reason, blocked := s.rules.Blocked(command); blocked {
		return Decision{Valid: false, Reason: reason}, nil
	}
	_, requiresApproval := s.rules.RequiresApproval(command)
	return Decision{Valid: true, RequiresApproval: requiresApproval}, nil
}

// RecordAction implements Sandbox.
func (s *RuleSandbox) RecordAction(command, target string, success bool, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.audit[sessionID], AuditEntry{
		Command:   command,
		Target:    target,
		Success:   success,
		Timestamp: time.Now(),
	})
	if len(entries) > maxAuditEntries {
		entries = entries[len(entries)-maxAuditEntries:]
	}
	s.audit[sessionID] = entries

	log.Printf("Audit: [%s] %s target=%s success=%v", sessionID, command, target, success)
}

// AuditTrail returns a copy of the session's recorded attempts.
func (s *RuleSandbox) AuditTrail(sessionID string) []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.audit[sessionID]
	out := make([]AuditEntry, len(entries))
	copy(out, entries)
	return out
}
