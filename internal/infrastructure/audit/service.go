package audit

import (
	"context"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/logger"
)

// Sink persists or forwards signed audit events.
type Sink interface {
	Write(ctx context.Context, event *models.AuditEvent) error
}

// SigningAuditService signs every event before handing it to the sink.
type SigningAuditService struct {
	signer *Signer
	sink   Sink
	logger logger.Logger
}

var _ service.AuditService = (*SigningAuditService)(nil)

// NewSigningAuditService creates the audit service. A nil signer leaves events unsigned.
func NewSigningAuditService(signer *Signer, sink Sink, log logger.Logger) *SigningAuditService {
	return &SigningAuditService{signer: signer, sink: sink, logger: log.WithComponent("AuditService")}
}

// LogEvent signs and writes the event.
func (s *SigningAuditService) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := s.signer.Sign(event); err != nil {
		s.logger.Error(ctx, "failed to sign audit event", err, logger.String("event_id", event.EventID))
		return err
	}
	return s.sink.Write(ctx, event)
}

// LogSink writes audit events to the structured log. It is the default sink for
// single-node deployments without Kafka or Postgres.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("audit")}
}

func (l *LogSink) Write(ctx context.Context, event *models.AuditEvent) error {
	fields := []logger.Field{
		logger.String("event_id", event.EventID),
		logger.String("event_type", string(event.EventType)),
		logger.String("user_id", event.UserID),
		logger.Float64("score", event.Score),
		logger.String("signature", event.Signature),
	}
	if event.AssessmentID != "" {
		fields = append(fields, logger.String("assessment_id", event.AssessmentID), logger.String("level", string(event.Level)))
	}
	if event.Actor != "" {
		fields = append(fields, logger.String("actor", event.Actor))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, logger.Any("metadata", event.Metadata))
	}
	l.logger.Info(ctx, "audit event", fields...)
	return nil
}
