// Package rollback records reversible state transitions and
// synthesizes their inverse commands.
package rollback

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/clock"
	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
)

// ExplicitInverse overrides the synthesized inverse for one recorded
// state. Handlers with declarative inverse metadata supply this.
type ExplicitInverse struct {
	Command string
	Params  map[string]interface{}
}

// Options configures a Ledger. Zero values fall back to the documented
// defaults.
type Options struct {
	MaxEntries int           // capacity eviction bound (default 1000)
	MaxAge     time.Duration // age sweep bound (default 24h)
	Clock      clock.Clock
}

// Ledger owns all RollbackState and RollbackGroup instances. History is
// bounded two ways: capacity evicts the single globally-oldest entry,
// and the age sweep removes anything past MaxAge.
type Ledger struct {
	mu     sync.Mutex
	states map[string]*models.RollbackState
	groups map[string]*models.RollbackGroup
	// bySession keeps insertion order per session for ordered retrieval.
	bySession map[string][]string

	maxEntries int
	maxAge     time.Duration
	clock      clock.Clock

	done chan struct{}
	once sync.Once
}

// NewLedger builds a rollback ledger with the given options.
func NewLedger(opts Options) *Ledger {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Ledger{
		states:     map[string]*models.RollbackState{},
		groups:     map[string]*models.RollbackGroup{},
		bySession:  map[string][]string{},
		maxEntries: opts.MaxEntries,
		maxAge:     opts.MaxAge,
		clock:      opts.Clock,
		done:       make(chan struct{}),
	}
}

// RecordState records one reversible state transition. When no explicit
// inverse is supplied, the inverse command and params are synthesized
// from the command name and the previous state.
func (l *Ledger) RecordState(actionID, command, target string, previousState, newState map[string]interface{}, sessionID string, inverse *ExplicitInverse) *models.RollbackState {
	rollbackCommand := ""
	var rollbackParams map[string]interface{}
	if inverse != nil {
		rollbackCommand = inverse.Command
		rollbackParams = copyState(inverse.Params)
	}
	if rollbackCommand == "" {
		rollbackCommand = InvertCommand(command)
	}
	if rollbackParams == nil {
		rollbackParams = InvertParams(command, target, previousState)
	}

	state := &models.RollbackState{
		ID:              uuid.NewString(),
		CreatedAt:       l.clock.Now(),
		ActionID:        actionID,
		Command:         command,
		Target:          target,
		PreviousState:   copyState(previousState),
		NewState:        copyState(newState),
		RollbackCommand: rollbackCommand,
		RollbackParams:  rollbackParams,
		SessionID:       sessionID,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.states) >= l.maxEntries {
		l.evictOldestLocked()
	}
	l.states[state.ID] = state
	l.bySession[sessionID] = append(l.bySession[sessionID], state.ID)

	log.Printf("Rollback state recorded: %s [%s -> %s] target=%s", state.ID, command, rollbackCommand, target)
	return state
}

// CreateGroup opens a rollback group for a batch action.
func (l *Ledger) CreateGroup(name, sessionID string) *models.RollbackGroup {
	group := &models.RollbackGroup{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: l.clock.Now(),
		SessionID: sessionID,
	}

	l.mu.Lock()
	l.groups[group.ID] = group
	l.mu.Unlock()
	return group
}

// AppendToGroup adds an already-recorded state to a group, preserving
// application order.
func (l *Ledger) AppendToGroup(groupID, stateID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	group, ok := l.groups[groupID]
	if !ok {
		return fmt.Errorf("rollback group not found: %s", groupID)
	}
	state, ok := l.states[stateID]
	if !ok {
		return fmt.Errorf("rollback state not found: %s", stateID)
	}
	group.States = append(group.States, state)
	return nil
}

// PrepareRollback returns the inverse command and params for a recorded
// state. It fails if the state is absent or already rolled back.
func (l *Ledger) PrepareRollback(stateID string) (string, map[string]interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[stateID]
	if !ok {
		return "", nil, models.NewActionError(models.CodeRollbackNotAvailable,
			fmt.Sprintf("no rollback state %s", stateID))
	}
	if state.RolledBack {
		return "", nil, models.NewActionError(models.CodeRollbackNotAvailable,
			fmt.Sprintf("state %s already rolled back", stateID))
	}
	return state.RollbackCommand, copyState(state.RollbackParams), nil
}

// GroupStep is one undo step of a batch rollback.
type GroupStep struct {
	StateID string
	Command string
	Params  map[string]interface{}
}

// PrepareGroupRollback returns the not-yet-rolled-back members of a
// group in reverse application order (last applied, first undone).
func (l *Ledger) PrepareGroupRollback(groupID string) ([]GroupStep, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	group, ok := l.groups[groupID]
	if !ok {
		return nil, models.NewActionError(models.CodeRollbackNotAvailable,
			fmt.Sprintf("no rollback group %s", groupID))
	}

	var steps []GroupStep
	for i := len(group.States) - 1; i >= 0; i-- {
		state := group.States[i]
		if state.RolledBack {
			continue
		}
		steps = append(steps, GroupStep{
			StateID: state.ID,
			Command: state.RollbackCommand,
			Params:  copyState(state.RollbackParams),
		})
	}
	return steps, nil
}

// MarkRolledBack flags a state rolled back. Idempotent.
func (l *Ledger) MarkRolledBack(stateID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[stateID]
	if !ok || state.RolledBack {
		return
	}
	now := l.clock.Now()
	state.RolledBack = true
	state.RolledBackAt = &now
}

// CanRollback reports whether the state exists and has not been rolled
// back yet.
func (l *Ledger) CanRollback(stateID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[stateID]
	return ok && !state.RolledBack
}

// AvailableRollbackCount counts the session's not-yet-rolled-back states.
func (l *Ledger) AvailableRollbackCount(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, id := range l.bySession[sessionID] {
		if state, ok := l.states[id]; ok && !state.RolledBack {
			count++
		}
	}
	return count
}

// LatestStateForTarget returns the most recent not-yet-rolled-back
// state touching the target, for "undo my last change to X".
func (l *Ledger) LatestStateForTarget(target, sessionID string) (*models.RollbackState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := l.bySession[sessionID]
	for i := len(ids) - 1; i >= 0; i-- {
		state, ok := l.states[ids[i]]
		if ok && state.Target == target && !state.RolledBack {
			return state, true
		}
	}
	return nil, false
}

// StartSweeper runs the periodic age sweep until Stop is called.
func (l *Ledger) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-l.done:
				return
			}
		}
	}()
}

// Sweep removes states and groups older than the configured max age.
// It is independent of the capacity eviction.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.maxAge)
	removed := 0
	for id, state := range l.states {
		if state.CreatedAt.Before(cutoff) {
			l.removeLocked(id, state.SessionID)
			removed++
		}
	}
	for id, group := range l.groups {
		if group.CreatedAt.Before(cutoff) {
			delete(l.groups, id)
		}
	}
	if removed > 0 {
		log.Printf("Rollback sweep removed %d state(s)", removed)
	}
	return removed
}

// Stop terminates the background sweeper.
func (l *Ledger) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Size returns the number of recorded states.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// evictOldestLocked drops the single globally-oldest entry by creation
// timestamp.
func (l *Ledger) evictOldestLocked() {
	oldestID := ""
	var oldest *models.RollbackState
	for id, state := range l.states {
		if oldest == nil || state.CreatedAt.Before(oldest.CreatedAt) {
			oldestID = id
			oldest = state
		}
	}
	if oldestID != "" {
		l.removeLocked(oldestID, oldest.SessionID)
		log.Printf("Rollback history full, evicted oldest state: %s", oldestID)
	}
}

func (l *Ledger) removeLocked(stateID, sessionID string) {
	delete(l.states, stateID)
	ids := l.bySession[sessionID]
	for i, id := range ids {
		if id == stateID {
			l.bySession[sessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(l.bySession[sessionID]) == 0 {
		delete(l.bySession, sessionID)
	}
}
