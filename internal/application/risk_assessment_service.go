// Package application orchestrates factor collection, scoring, policy lookup and
// persistence for risk assessments.
package application

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/repository"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
	"github.com/turtacn/riskguard/pkg/utils"
)

//go:generate mockery --name RiskAssessmentService --output mocks --outpkg mocks

// RiskAssessmentService defines the application service for assessing sensitive operations
// and querying the resulting records and profiles.
// RiskAssessmentService 定义了评估敏感操作以及查询评估记录和风险画像的应用服务接口。
type RiskAssessmentService interface {
	// AssessRisk scores an operation and recommends actions.
	// AssessRisk 为操作计算风险分数并给出推荐动作。
	AssessRisk(ctx context.Context, op *models.OperationContext) (*models.AssessmentResult, error)

	// GetUserRiskProfile returns the stored profile of a user.
	GetUserRiskProfile(ctx context.Context, userID string) (*models.RiskProfile, error)

	// GetAssessmentDetails returns one assessment record.
	GetAssessmentDetails(ctx context.Context, assessmentID string) (*models.RiskAssessment, error)

	// ListUserAssessments returns the newest records of a user first.
	ListUserAssessments(ctx context.Context, userID string, limit int) ([]*models.RiskAssessment, error)

	// ApplyFeedback adjusts a profile after the real outcome of an assessment is known.
	// ApplyFeedback 根据评估的真实结果调整用户画像。
	ApplyFeedback(ctx context.Context, fb *models.RiskFeedback) error
}

// Dependencies groups the collaborators of the assessment service.
type Dependencies struct {
	Profiles    repository.RiskProfileRepository
	Assessments repository.RiskAssessmentRepository
	Accounts    service.AccountDirectory
	Policy      service.PolicyEngine
	Audit       service.AuditService
	Collectors  Collaborators
	Metrics     service.Metrics
	Logger      logger.Logger
}

// riskAssessmentService is the concrete implementation of RiskAssessmentService.
type riskAssessmentService struct {
	profiles    repository.RiskProfileRepository
	assessments repository.RiskAssessmentRepository
	oracle      *profileOracle
	accounts    service.AccountDirectory
	policy      service.PolicyEngine
	audit       service.AuditService
	collector   *FactorCollector
	geo         service.GeoLocator
	velocity    service.VelocityTracker
	metrics     service.Metrics
	logger      logger.Logger

	settings atomic.Pointer[Settings]
	now      func() time.Time
}

// AssessmentService is RiskAssessmentService plus live reconfiguration.
type AssessmentService interface {
	RiskAssessmentService
	// Reconfigure swaps the scoring settings used by subsequent assessments.
	Reconfigure(cfg *config.Config)
}

// NewRiskAssessmentService creates a new instance of the assessment service.
// NewRiskAssessmentService 创建风险评估服务实例。
func NewRiskAssessmentService(deps Dependencies, settings *Settings) AssessmentService {
	if deps.Metrics == nil {
		deps.Metrics = service.NoopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoopLogger()
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	s := &riskAssessmentService{
		profiles:    deps.Profiles,
		assessments: deps.Assessments,
		oracle:      newProfileOracle(deps.Profiles),
		accounts:    deps.Accounts,
		policy:      deps.Policy,
		audit:       deps.Audit,
		collector:   NewFactorCollector(deps.Collectors, deps.Metrics, deps.Logger),
		geo:         deps.Collectors.Geo,
		velocity:    deps.Collectors.Velocity,
		metrics:     deps.Metrics,
		logger:      deps.Logger.WithComponent("RiskAssessmentService"),
		now:         time.Now,
	}
	s.settings.Store(settings)
	return s
}

// Reconfigure implements AssessmentService.
func (s *riskAssessmentService) Reconfigure(cfg *config.Config) {
	st := NewSettings(cfg)
	s.settings.Store(st)
	s.logger.Info(context.Background(), "Scoring settings reloaded",
		logger.Any("weights", st.Weights),
		logger.Float64("threshold_medium", st.Thresholds.Medium),
		logger.Float64("threshold_high", st.Thresholds.High),
		logger.Float64("threshold_critical", st.Thresholds.Critical),
	)
}

// AssessRisk implements RiskAssessmentService.
func (s *riskAssessmentService) AssessRisk(ctx context.Context, op *models.OperationContext) (*models.AssessmentResult, error) {
	start := s.now()
	if op == nil {
		return nil, errors.ErrInvalidRequest("operation context is required")
	}
	ctx, span := tracer.Start(ctx, "risk.assess", trace.WithAttributes(
		attribute.String("risk.user_id", op.UserID),
		attribute.String("risk.operation_type", op.OperationType),
	))
	defer span.End()

	result, err := s.assess(ctx, op, start)
	if err != nil {
		code := string(constants.ErrCodeServerError)
		if rerr, ok := errors.AsRiskError(err); ok {
			code = string(rerr.Code())
		}
		s.metrics.RecordAssessmentError(op.OperationType, code)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("risk.score", result.Score),
		attribute.String("risk.level", string(result.Level)),
		attribute.Bool("risk.degraded", result.Degraded),
	)
	return result, nil
}

func (s *riskAssessmentService) assess(ctx context.Context, op *models.OperationContext, start time.Time) (*models.AssessmentResult, error) {
	// 1. Validate input
	if err := utils.ValidateStruct(op); err != nil {
		return nil, err
	}
	if op.OccurredAt.IsZero() {
		op.OccurredAt = start
	}
	op.OccurredAt = op.OccurredAt.UTC()
	st := s.settings.Load()

	// 2. Check that the user exists
	if err := s.checkAccount(ctx, op.UserID); err != nil {
		return nil, err
	}

	// 3. Load the baseline
	profile, err := s.oracle.Baseline(ctx, op.UserID)
	if err != nil {
		s.logger.Error(ctx, "Failed to load risk profile", err, logger.String("user_id", op.UserID))
		return nil, errors.ErrServerError("failed to load risk profile").WithCause(err)
	}

	// 4. Collect, aggregate, classify, recommend
	col := s.collector.Collect(ctx, op, profile, st)
	score, contributions := service.Aggregate(col.Values, st.Weights)
	level := service.Classify(score, st.Thresholds, st.Floors, col.Values)
	actions := s.recommend(ctx, op.OperationType, level)

	record := &models.RiskAssessment{
		ID:                 uuid.NewString(),
		UserID:             op.UserID,
		OperationType:      op.OperationType,
		Score:              score,
		Level:              level,
		RecommendedActions: actions,
		Factors:            contributions,
		Degraded:           col.Degraded(),
		IPAddress:          op.IPAddress,
		DeviceFingerprint:  col.Fingerprint,
		CreatedAt:          s.now().UTC(),
	}

	// 5. Persist the record; everything after it is best effort
	if err := s.assessments.Save(ctx, record); err != nil {
		s.logger.Error(ctx, "Failed to persist risk assessment", err,
			logger.String("user_id", op.UserID), logger.String("assessment_id", record.ID))
		return nil, errors.ErrServerError("failed to persist risk assessment").WithCause(err)
	}

	if err := s.updateProfile(ctx, profile, op, record, col, st); err != nil {
		s.logger.Error(ctx, "Failed to update risk profile", err, logger.String("user_id", op.UserID))
	}
	if s.velocity != nil {
		if err := s.velocity.Record(ctx, op.UserID, op.OccurredAt, st.Velocity.Window); err != nil {
			s.logger.Warn(ctx, "Failed to record operation velocity", logger.String("user_id", op.UserID), logger.Error(err))
		}
	}
	s.emitAssessmentEvents(ctx, record, col)

	duration := s.now().Sub(start)
	s.metrics.RecordAssessment(op.OperationType, string(level), score, record.Degraded, duration)
	s.logger.Info(ctx, "Risk assessed",
		logger.String("assessment_id", record.ID),
		logger.String("user_id", op.UserID),
		logger.String("operation_type", op.OperationType),
		logger.Float64("score", score),
		logger.String("level", string(level)),
		logger.Strings("actions", actions.Strings()),
		logger.Bool("degraded", record.Degraded),
		logger.Duration("duration", duration),
	)
	return record.ToResult(), nil
}

func (s *riskAssessmentService) checkAccount(ctx context.Context, userID string) error {
	if s.accounts == nil {
		return nil
	}
	exists, err := s.accounts.UserExists(ctx, userID)
	if err != nil {
		s.logger.Error(ctx, "Account directory lookup failed", err, logger.String("user_id", userID))
		if rerr, ok := errors.AsRiskError(err); ok {
			return rerr
		}
		return errors.ErrUpstreamUnavailable("accounts").WithCause(err)
	}
	if !exists {
		return errors.ErrUserNotFound(userID)
	}
	return nil
}

func (s *riskAssessmentService) recommend(ctx context.Context, operationType string, level models.RiskLevel) models.Actions {
	var actions models.Actions
	if s.policy != nil {
		actions = s.policy.Recommend(ctx, operationType, level)
	}
	if len(actions) == 0 {
		s.logger.Warn(ctx, "Policy returned no actions, using built-in defaults",
			logger.String("operation_type", operationType), logger.String("level", string(level)))
		actions = append(models.Actions(nil), builtinActions(level)...)
	}
	return actions
}

func builtinActions(level models.RiskLevel) models.Actions {
	switch level {
	case models.RiskLevelLow:
		return models.Actions{models.ActionAllow}
	case models.RiskLevelMedium:
		return models.Actions{models.ActionAllow, models.ActionMonitor}
	case models.RiskLevelHigh:
		return models.Actions{models.ActionRequireMFA, models.ActionNotifySecurity}
	default:
		return models.Actions{models.ActionDeny, models.ActionNotifySecurity}
	}
}

// ================================================================================
// Profile learning
// ================================================================================

// updateProfile folds the assessment into the user's profile. A lost optimistic write
// reloads the profile and reapplies the change.
func (s *riskAssessmentService) updateProfile(ctx context.Context, base *models.RiskProfile, op *models.OperationContext,
	record *models.RiskAssessment, col *Collection, st *Settings) error {
	return s.mutateProfile(ctx, op.UserID, base, true, func(p *models.RiskProfile) {
		learn(p, op, record, col, st)
	})
}

// mutateProfile applies fn to a copy of the profile and saves it, retrying on version
// conflicts. With createIfMissing false a user without a profile yields ErrProfileNotFound.
func (s *riskAssessmentService) mutateProfile(ctx context.Context, userID string, current *models.RiskProfile,
	createIfMissing bool, fn func(p *models.RiskProfile)) error {
	var lastErr error
	for attempt := 0; attempt <= constants.ProfileUpdateRetries; attempt++ {
		if current == nil {
			stored, err := s.oracle.Existing(ctx, userID)
			if err != nil {
				return err
			}
			if stored == nil {
				if !createIfMissing {
					return errors.ErrProfileNotFound(userID)
				}
				stored = models.NewRiskProfile(userID)
			}
			current = stored
		}

		next := current.Clone()
		fn(next)
		next.UpdatedAt = s.now().UTC()
		if next.IsNew() && next.CreatedAt.IsZero() {
			next.CreatedAt = next.UpdatedAt
		}

		err := s.profiles.SaveProfile(ctx, next)
		if err == nil {
			return nil
		}
		if !errors.IsConflictError(err) {
			return err
		}
		s.metrics.RecordProfileConflict()
		s.logger.Debug(ctx, "Risk profile version conflict, retrying",
			logger.String("user_id", userID), logger.Int("attempt", attempt+1))
		lastErr = err
		current = nil
	}
	return lastErr
}

// learn applies one assessment to a profile.
func learn(p *models.RiskProfile, op *models.OperationContext, record *models.RiskAssessment, col *Collection, st *Settings) {
	at := op.OccurredAt
	if p.AssessmentCount == 0 {
		p.AverageScore = record.Score
	} else {
		p.AverageScore = st.EWMAAlpha*record.Score + (1-st.EWMAAlpha)*p.AverageScore
	}
	p.AverageScore = math.Round(p.AverageScore*100) / 100
	p.AssessmentCount++
	p.HourHistogram[at.Hour()]++
	if p.OperationCounts == nil {
		p.OperationCounts = make(map[string]int)
	}
	p.OperationCounts[op.OperationType]++
	p.LastAssessedAt = &at

	loc := col.Location
	if loc != nil {
		p.LastLocation = &models.GeoPoint{
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			Country:    loc.Country,
			City:       loc.City,
			ObservedAt: at,
		}
	}

	if p.Flagged || record.Level.Rank() > st.TrustMaxLevel.Rank() {
		return
	}
	if col.Fingerprint != "" {
		p.TrustDevice(col.Fingerprint, at, st.MaxTrustedDevices)
	}
	if loc != nil {
		if i, km := nearestLocation(p, loc.Latitude, loc.Longitude); i >= 0 && km <= st.Travel.MinDistanceKm {
			p.TouchLocation(i, at)
		} else {
			p.TrustLocation(models.TrustedLocation{
				Country:   loc.Country,
				City:      loc.City,
				Latitude:  loc.Latitude,
				Longitude: loc.Longitude,
				LastSeen:  at,
			}, st.MaxTrustedLocations)
		}
	}
}

// ================================================================================
// Audit
// ================================================================================

func (s *riskAssessmentService) emitAssessmentEvents(ctx context.Context, record *models.RiskAssessment, col *Collection) {
	actor := ActorFromContext(ctx)
	traceID := trace.SpanContextFromContext(ctx).TraceID()
	var traceIDStr string
	if traceID.IsValid() {
		traceIDStr = traceID.String()
	}

	events := []*models.AuditEvent{
		models.NewAuditEvent(constants.AuditEventRiskAssessed, record.UserID).
			WithAssessment(record).
			WithMetadata("operation_type", record.OperationType).
			WithMetadata("actions", strings.Join(record.RecommendedActions.Strings(), ",")),
	}
	if record.Level.AtLeast(models.RiskLevelHigh) {
		events = append(events, models.NewAuditEvent(constants.AuditEventHighRisk, record.UserID).
			WithAssessment(record).
			WithMetadata("operation_type", record.OperationType).
			WithMetadata("top_factor", topFactor(record.Factors)))
	}
	if record.Degraded {
		events = append(events, models.NewAuditEvent(constants.AuditEventFactorDegraded, record.UserID).
			WithAssessment(record).
			WithMetadata("factors", strings.Join(col.DegradedFactors(), ",")))
	}
	for _, e := range events {
		e.WithActor(actor).WithTrace(traceIDStr).
			WithMetadata("degraded", strconv.FormatBool(record.Degraded))
		s.logAudit(ctx, e)
	}
}

func (s *riskAssessmentService) logAudit(ctx context.Context, e *models.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogEvent(ctx, e); err != nil {
		s.logger.Warn(ctx, "Failed to write audit event",
			logger.String("event_type", string(e.EventType)),
			logger.String("user_id", e.UserID),
			logger.Error(err))
	}
}

func topFactor(cs []models.FactorContribution) string {
	if len(cs) == 0 {
		return ""
	}
	return cs[0].Name
}

// SystemActor is the actor recorded for calls without an authenticated caller.
const SystemActor = "system"

// ActorFromContext returns the authenticated API caller, or SystemActor for internal callers.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(constants.ContextKeyActor).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

// ContextWithActor attaches the authenticated API caller to ctx.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, constants.ContextKeyActor, actor)
}

// ================================================================================
// Queries
// ================================================================================

// GetUserRiskProfile implements RiskAssessmentService.
func (s *riskAssessmentService) GetUserRiskProfile(ctx context.Context, userID string) (*models.RiskProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.ErrMissingRequiredParameter("user_id")
	}
	profile, err := s.oracle.Existing(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, errors.ErrProfileNotFound(userID)
	}
	return profile, nil
}

// GetAssessmentDetails implements RiskAssessmentService.
func (s *riskAssessmentService) GetAssessmentDetails(ctx context.Context, assessmentID string) (*models.RiskAssessment, error) {
	if !utils.IsValidUUID(assessmentID) {
		return nil, errors.ErrInvalidParameterFormat("assessment_id", "UUID")
	}
	return s.assessments.FindByID(ctx, assessmentID)
}

// ListUserAssessments implements RiskAssessmentService.
func (s *riskAssessmentService) ListUserAssessments(ctx context.Context, userID string, limit int) ([]*models.RiskAssessment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.ErrMissingRequiredParameter("user_id")
	}
	if limit == 0 {
		limit = constants.DefaultAssessmentListLimit
	}
	if limit < 1 || limit > constants.MaxAssessmentListLimit {
		return nil, errors.ErrInvalidRequest("limit must be between 1 and " + strconv.Itoa(constants.MaxAssessmentListLimit))
	}
	return s.assessments.ListByUser(ctx, userID, limit)
}
