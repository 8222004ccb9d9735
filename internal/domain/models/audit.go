package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/riskguard/pkg/constants"
)

// AuditEvent represents a single audit trail event.
type AuditEvent struct {
	EventID      string                   `json:"event_id"`
	EventType    constants.AuditEventType `json:"event_type"`
	UserID       string                   `json:"user_id"`
	AssessmentID string                   `json:"assessment_id,omitempty"`
	Level        RiskLevel                `json:"level,omitempty"`
	Score        float64                  `json:"score"`
	Actor        string                   `json:"actor,omitempty"` // API caller subject, or "system"
	IPAddress    string                   `json:"ip_address,omitempty"`
	TraceID      string                   `json:"trace_id,omitempty"`
	Metadata     map[string]string        `json:"metadata,omitempty"`
	Timestamp    time.Time                `json:"timestamp"`
	Signature    string                   `json:"signature,omitempty"` // hex HMAC-SHA256 over the unsigned event
}

// NewAuditEvent creates a new audit event.
func NewAuditEvent(eventType constants.AuditEventType, userID string) *AuditEvent {
	return &AuditEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UTC(),
	}
}

// WithAssessment attaches the assessment outcome.
func (e *AuditEvent) WithAssessment(a *RiskAssessment) *AuditEvent {
	e.AssessmentID = a.ID
	e.Level = a.Level
	e.Score = a.Score
	e.IPAddress = a.IPAddress
	return e
}

// WithActor sets who triggered the event.
func (e *AuditEvent) WithActor(actor string) *AuditEvent {
	e.Actor = actor
	return e
}

// WithTrace sets the trace identifier for correlation.
func (e *AuditEvent) WithTrace(traceID string) *AuditEvent {
	e.TraceID = traceID
	return e
}

// WithMetadata adds a metadata entry.
func (e *AuditEvent) WithMetadata(key, value string) *AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

//Personal.AI order the ending
