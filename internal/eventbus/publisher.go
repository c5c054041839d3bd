// Package eventbus publishes pipeline lifecycle events to NATS for
// dashboards and downstream tooling. Publishing is best-effort: the
// pipeline never blocks or fails because the bus is down.
package eventbus

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
)

const (
	subjectExecuted       = "actions.executed"
	subjectRolledBack     = "actions.rolledback"
	subjectPreviewPending = "previews.pending"
)

// ActionEvent is the JSON shape published for executed and rolled-back
// actions.
type ActionEvent struct {
	RequestID       string `json:"request_id"`
	Command         string `json:"command"`
	Success         bool   `json:"success"`
	ErrorCode       string `json:"error_code,omitempty"`
	RollbackID      string `json:"rollback_id,omitempty"`
	RolledBackState string `json:"rolled_back_state,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Timestamp       int64  `json:"timestamp"`
}

// PreviewEvent is the JSON shape published when an action is gated
// behind approval.
type PreviewEvent struct {
	PreviewID string           `json:"preview_id"`
	Command   string           `json:"command"`
	RiskLevel models.RiskLevel `json:"risk_level"`
	SessionID string           `json:"session_id"`
	ExpiresAt int64            `json:"expires_at"`
	Timestamp int64            `json:"timestamp"`
}

// Publisher publishes pipeline events to NATS.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with the standard reconnect settings.
func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}

	log.Printf("Agent publisher connected to NATS: %s", natsURL)
	return &Publisher{conn: conn}, nil
}

// PublishExecuted implements pipeline.AuditPublisher.
func (p *Publisher) PublishExecuted(result *models.ExecutionResult) {
	p.publish(subjectExecuted, actionEvent(result, ""))
}

// PublishRolledBack implements pipeline.AuditPublisher.
func (p *Publisher) PublishRolledBack(stateID string, result *models.ExecutionResult) {
	p.publish(subjectRolledBack, actionEvent(result, stateID))
}

// PublishPreviewPending implements pipeline.AuditPublisher.
func (p *Publisher) PublishPreviewPending(preview *models.ActionPreview) {
	p.publish(subjectPreviewPending, PreviewEvent{
		PreviewID: preview.ID,
		Command:   preview.Command,
		RiskLevel: preview.Risk.Level,
		SessionID: preview.SessionID,
		ExpiresAt: preview.ExpiresAt.Unix(),
		Timestamp: time.Now().Unix(),
	})
}

func actionEvent(result *models.ExecutionResult, rolledBackState string) ActionEvent {
	event := ActionEvent{
		RequestID:       result.RequestID,
		Command:         result.Command,
		Success:         result.Success,
		RollbackID:      result.RollbackID,
		RolledBackState: rolledBackState,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Timestamp:       time.Now().Unix(),
	}
	if result.Error != nil {
		event.ErrorCode = result.Error.Code
	}
	return event
}

func (p *Publisher) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("Failed to publish %s event: %v", subject, err)
		return
	}
	log.Printf("Published event: %s", subject)
}

// IsConnected reports whether the NATS link is up.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close disconnects from NATS.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		log.Printf("Agent publisher disconnected from NATS")
	}
}
