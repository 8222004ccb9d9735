package repository

import (
	"context"
	"time"

	"github.com/turtacn/riskguard/internal/domain/models"
)

//go:generate mockery --name RiskProfileRepository --output ../repository/mocks --filename risk_profile_repository.go
type RiskProfileRepository interface {
	// GetProfile retrieves the risk profile for a given user.
	// If the profile is not found, it returns (nil, nil) so that the service
	// layer can start from an empty baseline.
	GetProfile(ctx context.Context, userID string) (*models.RiskProfile, error)

	// SaveProfile persists the profile with an optimistic version check.
	// A profile with Version 0 is inserted; otherwise the stored row must still carry
	// profile.Version. On success profile.Version is incremented. A lost race returns
	// an errors.ErrConflict RiskError.
	SaveProfile(ctx context.Context, profile *models.RiskProfile) error
}

//go:generate mockery --name RiskAssessmentRepository --output ../repository/mocks --filename risk_assessment_repository.go
type RiskAssessmentRepository interface {
	// Save inserts an assessment record. Records are immutable.
	Save(ctx context.Context, assessment *models.RiskAssessment) error

	// FindByID returns errors.ErrAssessmentNotFound when no record exists.
	FindByID(ctx context.Context, assessmentID string) (*models.RiskAssessment, error)

	// ListByUser returns the newest records of a user first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.RiskAssessment, error)

	// DeleteOlderThan removes records created before cutoff and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
