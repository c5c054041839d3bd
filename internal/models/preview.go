package models

import "time"

// ChangeType categorizes the effect a change has on its target.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
	ChangeMove   ChangeType = "move"
)

// ChangePreview describes one predicted effect of a proposed action.
type ChangePreview struct {
	Type        ChangeType             `json:"type"`
	Target      string                 `json:"target"`
	Description string                 `json:"description"`
	Before      map[string]interface{} `json:"before,omitempty"`
	After       map[string]interface{} `json:"after,omitempty"`
	// Dependencies lists identifiers of other objects affected if this
	// change lands (e.g. actors referencing a deleted blueprint).
	Dependencies []string `json:"dependencies,omitempty"`
}

// ActionPreview is a proposed action's predicted effects plus its risk
// score, held until it is approved, rejected, or expires.
//
// Approved/Rejected/Executed only ever transition false -> true, and
// Rejected and Executed are mutually exclusive terminal states.
type ActionPreview struct {
	ID        string                 `json:"id"`
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`

	Changes []ChangePreview `json:"changes"`
	Risk    RiskAssessment  `json:"risk"`

	Approved     bool   `json:"approved"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	ApprovalNote string `json:"approval_note,omitempty"`

	Rejected        bool   `json:"rejected"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	Executed   bool                   `json:"executed"`
	ExecutedAt *time.Time             `json:"executed_at,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// Expired reports whether the preview's approval window has closed.
func (p *ActionPreview) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Pending reports whether the preview is still waiting on a decision.
func (p *ActionPreview) Pending() bool {
	return !p.Approved && !p.Rejected && !p.Executed
}
