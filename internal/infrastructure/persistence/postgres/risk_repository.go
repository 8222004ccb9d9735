package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/repository"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// riskProfileDBM is the database model for the risk_profiles table.
type riskProfileDBM struct {
	UserID           string                   `gorm:"primaryKey;size:128"`
	AverageScore     float64                  `gorm:"not null;default:0"`
	AssessmentCount  int64                    `gorm:"not null;default:0"`
	TrustedDevices   []models.TrustedDevice   `gorm:"serializer:json"`
	TrustedLocations []models.TrustedLocation `gorm:"serializer:json"`
	LastLocation     *models.GeoPoint         `gorm:"serializer:json"`
	HourHistogram    [24]int                  `gorm:"serializer:json"`
	OperationCounts  map[string]int           `gorm:"serializer:json"`
	Flagged          bool                     `gorm:"not null;default:false"`
	LastAssessedAt   *time.Time
	Version          int64 `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (riskProfileDBM) TableName() string {
	return "risk_profiles"
}

// toDomain converts the database model to a domain model.
func (dbm *riskProfileDBM) toDomain() *models.RiskProfile {
	p := &models.RiskProfile{
		UserID:           dbm.UserID,
		AverageScore:     dbm.AverageScore,
		AssessmentCount:  dbm.AssessmentCount,
		TrustedDevices:   dbm.TrustedDevices,
		TrustedLocations: dbm.TrustedLocations,
		LastLocation:     dbm.LastLocation,
		HourHistogram:    dbm.HourHistogram,
		OperationCounts:  dbm.OperationCounts,
		Flagged:          dbm.Flagged,
		LastAssessedAt:   dbm.LastAssessedAt,
		Version:          dbm.Version,
		CreatedAt:        dbm.CreatedAt,
		UpdatedAt:        dbm.UpdatedAt,
	}
	if p.OperationCounts == nil {
		p.OperationCounts = make(map[string]int)
	}
	return p
}

// profileFromDomain converts a domain model to a database model.
func profileFromDomain(p *models.RiskProfile) *riskProfileDBM {
	return &riskProfileDBM{
		UserID:           p.UserID,
		AverageScore:     p.AverageScore,
		AssessmentCount:  p.AssessmentCount,
		TrustedDevices:   p.TrustedDevices,
		TrustedLocations: p.TrustedLocations,
		LastLocation:     p.LastLocation,
		HourHistogram:    p.HourHistogram,
		OperationCounts:  p.OperationCounts,
		Flagged:          p.Flagged,
		LastAssessedAt:   p.LastAssessedAt,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// RiskProfileRepository is the gorm implementation of repository.RiskProfileRepository.
type RiskProfileRepository struct {
	db      *gorm.DB
	logger  logger.Logger
	metrics service.Metrics
}

// NewRiskProfileRepository creates a new RiskProfileRepository.
func NewRiskProfileRepository(db *gorm.DB, log logger.Logger, metrics service.Metrics) repository.RiskProfileRepository {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &RiskProfileRepository{db: db, logger: log.WithComponent("profile_repository"), metrics: metrics}
}

// GetProfile retrieves the risk profile for a given user, (nil, nil) when absent.
func (r *RiskProfileRepository) GetProfile(ctx context.Context, userID string) (*models.RiskProfile, error) {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("profile_get", time.Since(start)) }()

	var dbm riskProfileDBM
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&dbm).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error(ctx, "Failed to load risk profile", err, logger.String("user_id", userID))
		return nil, errors.ErrDatabaseOperation("get profile", err)
	}
	return dbm.toDomain(), nil
}

// SaveProfile inserts a new profile or updates an existing one guarded by its version.
func (r *RiskProfileRepository) SaveProfile(ctx context.Context, p *models.RiskProfile) error {
	start := time.Now()
	defer func() { r.metrics.RecordDBQuery("profile_save", time.Since(start)) }()

	now := time.Now().UTC()
	if p.IsNew() {
		dbm := profileFromDomain(p)
		dbm.Version = 1
		dbm.CreatedAt = now
		dbm.UpdatedAt = now
		if err := r.db.WithContext(ctx).Create(dbm).Error; err != nil {
			if isDuplicateKey(err) {
				return errors.ErrConflict("risk profile created concurrently").WithMetadata("user_id", p.UserID)
			}
			r.logger.Error(ctx, "Failed to create risk profile", err, logger.String("user_id", p.UserID))
			return errors.ErrDatabaseOperation("create profile", err)
		}
		p.Version = 1
		p.CreatedAt = now
		p.UpdatedAt = now
		return nil
	}

	expected := p.Version
	dbm := profileFromDomain(p)
	dbm.Version = expected + 1
	dbm.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Model(dbm).
		Where("version = ?", expected).
		Select("*").
		Omit("user_id", "created_at").
		Updates(dbm)
	if result.Error != nil {
		r.logger.Error(ctx, "Failed to update risk profile", result.Error, logger.String("user_id", p.UserID))
		return errors.ErrDatabaseOperation("update profile", result.Error)
	}
	if result.RowsAffected == 0 {
		r.logger.Debug(ctx, "Risk profile version mismatch",
			logger.String("user_id", p.UserID), logger.Int64("expected_version", expected))
		return errors.ErrConflict("risk profile modified concurrently").
			WithMetadata("user_id", p.UserID).
			WithMetadata("expected_version", expected)
	}

	p.Version = expected + 1
	p.UpdatedAt = now
	return nil
}

func isDuplicateKey(err error) bool {
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

//Personal.AI order the ending
