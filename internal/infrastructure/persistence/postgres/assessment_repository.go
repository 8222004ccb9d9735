package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/repository"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// riskAssessmentDBM is the database model for the risk_assessments table.
type riskAssessmentDBM struct {
	ID                string                      `gorm:"primaryKey;size:36"`
	UserID            string                      `gorm:"size:128;not null;index:idx_assessments_user_created,priority:1"`
	OperationType     string                      `gorm:"size:64;not null"`
	Score             float64                     `gorm:"not null"`
	Level             string                      `gorm:"size:16;not null"`
	Actions           []string                    `gorm:"serializer:json"`
	Factors           []models.FactorContribution `gorm:"serializer:json"`
	Degraded          bool                        `gorm:"not null;default:false"`
	IPAddress         string                      `gorm:"size:64"`
	DeviceFingerprint string                      `gorm:"size:128"`
	CreatedAt         time.Time                   `gorm:"not null;index;index:idx_assessments_user_created,priority:2"`
}

func (riskAssessmentDBM) TableName() string {
	return "risk_assessments"
}

func (dbm *riskAssessmentDBM) toDomain() *models.RiskAssessment {
	actions := make(models.Actions, len(dbm.Actions))
	for i, a := range dbm.Actions {
		actions[i] = models.Action(a)
	}
	return &models.RiskAssessment{
		ID:                 dbm.ID,
		UserID:             dbm.UserID,
		OperationType:      dbm.OperationType,
		Score:              dbm.Score,
		Level:              models.RiskLevel(dbm.Level),
		RecommendedActions: actions,
		Factors:            dbm.Factors,
		Degraded:           dbm.Degraded,
		IPAddress:          dbm.IPAddress,
		DeviceFingerprint:  dbm.DeviceFingerprint,
		CreatedAt:          dbm.CreatedAt,
	}
}

func assessmentFromDomain(a *models.RiskAssessment) *riskAssessmentDBM {
	return &riskAssessmentDBM{
		ID:                a.ID,
		UserID:            a.UserID,
		OperationType:     a.OperationType,
		Score:             a.Score,
		Level:             string(a.Level),
		Actions:           a.RecommendedActions.Strings(),
		Factors:           a.Factors,
		Degraded:          a.Degraded,
		IPAddress:         a.IPAddress,
		DeviceFingerprint: a.DeviceFingerprint,
		CreatedAt:         a.CreatedAt,
	}
}

// RiskAssessmentRepository is the gorm implementation of repository.RiskAssessmentRepository.
type RiskAssessmentRepository struct {
	db      *gorm.DB
	logger  logger.Logger
	metrics service.Metrics
}

// NewRiskAssessmentRepository creates a new RiskAssessmentRepository.
func NewRiskAssessmentRepository(db *gorm.DB, log logger.Logger, metrics service.Metrics) repository.RiskAssessmentRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &RiskAssessmentRepository{db: db, logger: log.WithComponent("assessment_repository"), metrics: metrics}
}

// Save inserts an assessment record.
func (r *RiskAssessmentRepository) Save(ctx context.Context, a *models.RiskAssessment) error {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("assessment_save", time.Since(start)) }()

	if err := r.db.WithContext(ctx).Create(assessmentFromDomain(a)).Error; err != nil {
		r.logger.Error(ctx, "Failed to save risk assessment", err,
			logger.String("assessment_id", a.ID),
			logger.String("user_id", a.UserID),
		)
		return errors.ErrDatabaseOperation("save assessment", err)
	}
	return nil
}

// FindByID retrieves an assessment by its identifier.
func (r *RiskAssessmentRepository) FindByID(ctx context.Context, assessmentID string) (*models.RiskAssessment, error) {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("assessment_get", time.Since(start)) }()

	var dbm riskAssessmentDBM
	err := r.db.WithContext(ctx).Where("id = ?", assessmentID).First(&dbm).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAssessmentNotFound(assessmentID)
		}
		r.logger.Error(ctx, "Failed to retrieve risk assessment", err, logger.String("assessment_id", assessmentID))
		return nil, errors.ErrDatabaseOperation("get assessment", err)
	}
	return dbm.toDomain(), nil
}

// ListByUser returns the newest assessments of a user first.
func (r *RiskAssessmentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.RiskAssessment, error) {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("assessment_list", time.Since(start)) }()

	var rows []riskAssessmentDBM
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to list risk assessments", err, logger.String("user_id", userID))
		return nil, errors.ErrDatabaseOperation("list assessments", err)
	}

	out := make([]*models.RiskAssessment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// DeleteOlderThan removes records created before cutoff.
func (r *RiskAssessmentRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("assessment_purge", time.Since(start)) }()

	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&riskAssessmentDBM{})
	if result.Error != nil {
		r.logger.Error(ctx, "Failed to purge risk assessments", result.Error, logger.Time("cutoff", cutoff))
		return 0, errors.ErrDatabaseOperation("purge assessments", result.Error)
	}
	return result.RowsAffected, nil
}
