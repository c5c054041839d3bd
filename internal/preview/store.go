// Package preview gates risky actions behind an approval step and
// tracks their outcome.
package preview

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/clock"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
)

// executedRetention is how long an executed preview is kept past its
// execution time before the sweep purges it.
const executedRetention = time.Hour

// ChangeAnalyzer predicts the effects of a proposed action without
// executing it. It may call out to the engine.
type ChangeAnalyzer func(ctx context.Context) ([]models.ChangePreview, error)

// Options configures a Store. Zero values fall back to the documented
// defaults.
type Options struct {
	MaxPending           int           // hard admission limit (default 100)
	TTL                  time.Duration // approval window (default 5m)
	AutoApproveThreshold models.RiskLevel
	// ApprovalRequired lists command-name fragments that always need
	// explicit approval regardless of the assessed risk level.
	ApprovalRequired []string
	// CriticalOperations overrides the built-in critical command list.
	CriticalOperations []string
	Clock              clock.Clock
}

// DefaultApprovalRequired is the fixed set of destructive command-name
// fragments that can never be auto-approved.
var DefaultApprovalRequired = []string{
	"delete_",
	"destroy",
	"clear_",
	"remove_all",
	"reset_",
}

// Store owns all ActionPreview instances. Other components hold
// previews by id and mutate them only through this API.
type Store struct {
	mu       sync.Mutex
	previews map[string]*models.ActionPreview
	// reserved counts admissions whose change analysis is still in
	// flight, so two concurrent creates cannot both pass the capacity
	// check before either inserts.
	reserved int

	maxPending       int
	ttl              time.Duration
	autoApprove      models.RiskLevel
	approvalRequired []string
	criticalOps      []string
	clock            clock.Clock

	done chan struct{}
	once sync.Once
}

// NewStore builds a preview store with the given options.
func NewStore(opts Options) *Store {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 100
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.AutoApproveThreshold == "" {
		opts.AutoApproveThreshold = models.RiskLow
	}
	if opts.ApprovalRequired == nil {
		opts.ApprovalRequired = DefaultApprovalRequired
	}
	if opts.CriticalOperations == nil {
		opts.CriticalOperations = defaultCriticalOperations
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Store{
		previews:         map[string]*models.ActionPreview{},
		maxPending:       opts.MaxPending,
		ttl:              opts.TTL,
		autoApprove:      opts.AutoApproveThreshold,
		approvalRequired: opts.ApprovalRequired,
		criticalOps:      opts.CriticalOperations,
		clock:            opts.Clock,
		done:             make(chan struct{}),
	}
}

// CreatePreview analyzes a proposed action, scores its risk, and admits
// it for approval. Admission is a hard limit: if the store is full
// after an expiration sweep, creation fails rather than evicting an
// unexpired preview. A slot is reserved before the analyzer runs so
// concurrent creates cannot overshoot capacity.
func (s *Store) CreatePreview(ctx context.Context, command string, params map[string]interface{}, analyzer ChangeAnalyzer, sessionID, userID string) (*models.ActionPreview, error) {
	s.mu.Lock()
	now := s.clock.Now()
	s.sweepLocked(now)
	if len(s.previews)+s.reserved >= s.maxPending {
		s.mu.Unlock()
		return nil, models.NewActionError(models.CodePreviewCapacity,
			fmt.Sprintf("too many pending previews (limit %d)", s.maxPending)).
			WithSuggestion("approve, reject, or let pending previews expire before creating more")
	}
	s.reserved++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.reserved--
		s.mu.Unlock()
	}

	var changes []models.ChangePreview
	if analyzer != nil {
		var err error
		changes, err = analyzer(ctx)
		if err != nil {
			release()
			return nil, fmt.Errorf("change analysis failed: %w", err)
		}
	}

	risk := AssessRisk(command, changes, s.criticalOps)

	now = s.clock.Now()
	p := &models.ActionPreview{
		ID:        uuid.NewString(),
		Command:   command,
		Params:    copyParams(params),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Changes:   changes,
		Risk:      risk,
		SessionID: sessionID,
		UserID:    userID,
	}

	if risk.Level.AtMost(s.autoApprove) && !matchesAny(command, s.approvalRequired) {
		p.Approved = true
		p.ApprovedBy = "auto"
	}

	s.mu.Lock()
	s.reserved--
	s.previews[p.ID] = p
	s.mu.Unlock()

	log.Printf("Preview created: %s [%s] risk=%s auto-approved=%v", p.ID, command, risk.Level, p.Approved)
	return p, nil
}

// ApprovalRequest carries an approval decision. ModifiedParams, when
// present, are merged into the preview's params before execution.
type ApprovalRequest struct {
	PreviewID      string                 `json:"preview_id"`
	ApprovedBy     string                 `json:"approved_by,omitempty"`
	Note           string                 `json:"note,omitempty"`
	ModifiedParams map[string]interface{} `json:"modified_params,omitempty"`
}

// ApprovePreview marks a pending preview approved. It fails if the
// preview is absent, expired, rejected, or already executed.
func (s *Store) ApprovePreview(req ApprovalRequest) (*models.ActionPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.liveLocked(req.PreviewID)
	if err != nil {
		return nil, err
	}
	if p.Rejected {
		return nil, models.NewActionError(models.CodePreviewRejected,
			fmt.Sprintf("preview %s was rejected", req.PreviewID))
	}
	if p.Executed {
		return nil, models.NewActionError(models.CodePreviewAlreadyExecuted,
			fmt.Sprintf("preview %s was already executed", req.PreviewID))
	}

	for key, value := range req.ModifiedParams {
		p.Params[key] = value
	}
	p.Approved = true
	p.ApprovedBy = req.ApprovedBy
	p.ApprovalNote = req.Note

	log.Printf("Preview approved: %s by %s", p.ID, req.ApprovedBy)
	return p, nil
}

// RejectPreview marks a preview rejected. The preview is kept (not
// deleted) as an audit trail until the sweep ages it out.
func (s *Store) RejectPreview(previewID, rejectedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.liveLocked(previewID)
	if err != nil {
		return err
	}
	if p.Executed {
		return models.NewActionError(models.CodePreviewAlreadyExecuted,
			fmt.Sprintf("preview %s was already executed", previewID))
	}

	p.Rejected = true
	p.RejectedBy = rejectedBy
	p.RejectionReason = reason

	log.Printf("Preview rejected: %s (%s)", previewID, reason)
	return nil
}

// MarkExecuted records the outcome of executing a preview. It is an
// idempotent no-op when the preview is absent or already executed.
func (s *Store) MarkExecuted(previewID string, result map[string]interface{}, execErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.previews[previewID]
	if !ok || p.Executed {
		return
	}

	now := s.clock.Now()
	p.Executed = true
	p.ExecutedAt = &now
	p.Result = result
	p.Error = execErr
}

// GetPreview returns the preview by id. An expired, unexecuted preview
// is deleted on read and reported as absent; expiry is enforced here
// and by the periodic sweep.
func (s *Store) GetPreview(previewID string) (*models.ActionPreview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.previews[previewID]
	if !ok {
		return nil, false
	}
	if p.Expired(s.clock.Now()) && !p.Executed {
		delete(s.previews, previewID)
		return nil, false
	}
	return p, true
}

// PendingPreviews lists unexpired previews still waiting on a decision,
// optionally filtered by session.
func (s *Store) PendingPreviews(sessionID string) []*models.ActionPreview {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var pending []*models.ActionPreview
	for _, p := range s.previews {
		if p.Expired(now) || !p.Pending() {
			continue
		}
		if sessionID != "" && p.SessionID != sessionID {
			continue
		}
		pending = append(pending, p)
	}
	return pending
}

// StartSweeper runs the periodic expiration sweep until Stop is called.
// The sweep only bounds memory growth; correctness does not depend on
// it because reads expire lazily.
func (s *Store) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.done:
				return
			}
		}
	}()
}

// Sweep purges expired unexecuted previews immediately and executed
// previews once older than the retention window.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.clock.Now())
}

// Stop terminates the background sweeper.
func (s *Store) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for id, p := range s.previews {
		switch {
		case p.Executed:
			if p.ExecutedAt != nil && now.Sub(*p.ExecutedAt) > executedRetention {
				delete(s.previews, id)
				removed++
			}
		case p.Expired(now):
			delete(s.previews, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("Preview sweep removed %d preview(s)", removed)
	}
	return removed
}

// liveLocked fetches a preview, lazily expiring it on read.
func (s *Store) liveLocked(previewID string) (*models.ActionPreview, error) {
	p, ok := s.previews[previewID]
	if !ok {
		return nil, models.NewActionError(models.CodePreviewNotFound,
			fmt.Sprintf("preview %s not found", previewID))
	}
	if p.Expired(s.clock.Now()) && !p.Executed {
		delete(s.previews, previewID)
		return nil, models.NewActionError(models.CodePreviewExpired,
			fmt.Sprintf("preview %s expired", previewID)).
			WithSuggestion("create a new preview for this action")
	}
	return p, nil
}

func copyParams(params map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(params))
	for key, value := range params {
		copied[key] = value
	}
	return copied
}
