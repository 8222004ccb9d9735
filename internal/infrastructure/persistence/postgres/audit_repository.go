package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/errors"
)

// execer is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS risk_audit_events (
	event_id      UUID PRIMARY KEY,
	event_type    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	assessment_id TEXT,
	level         TEXT,
	score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	actor         TEXT,
	ip_address    TEXT,
	trace_id      TEXT,
	metadata      JSONB,
	occurred_at   TIMESTAMPTZ NOT NULL,
	signature     TEXT
);
CREATE INDEX IF NOT EXISTS idx_risk_audit_events_user ON risk_audit_events (user_id, occurred_at DESC);`

const insertAuditEvent = `
INSERT INTO risk_audit_events
	(event_id, event_type, user_id, assessment_id, level, score, actor, ip_address, trace_id, metadata, occurred_at, signature)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (event_id) DO NOTHING`

// AuditRepository appends signed audit events to PostgreSQL.
type AuditRepository struct {
	db      execer
	metrics service.Metrics
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db execer, metrics service.Metrics) *AuditRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &AuditRepository{db: db, metrics: metrics}
}

// EnsureSchema creates the audit table when missing.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, auditSchema); err != nil {
		return errors.ErrDatabaseOperation("create audit schema", err)
	}
	return nil
}

// Write inserts the event. Re-delivering an event with the same ID is a no-op.
func (r *AuditRepository) Write(ctx context.Context, event *models.AuditEvent) error {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("audit_insert", time.Since(start)) }()

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errors.ErrServerError("failed to encode audit metadata").WithCause(err)
	}
	_, err = r.db.Exec(ctx, insertAuditEvent,
		event.EventID, string(event.EventType), event.UserID,
		nullString(event.AssessmentID), nullString(string(event.Level)), event.Score,
		nullString(event.Actor), nullString(event.IPAddress), nullString(event.TraceID),
		metadata, event.Timestamp, nullString(event.Signature),
	)
	if err != nil {
		return errors.ErrDatabaseOperation("insert audit event", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
