package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/riskguard/internal/domain/models"
)

type MockRiskProfileRepository struct {
	mock.Mock
}

func (m *MockRiskProfileRepository) GetProfile(ctx context.Context, userID string) (*models.RiskProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RiskProfile), args.Error(1)
}

func (m *MockRiskProfileRepository) SaveProfile(ctx context.Context, profile *models.RiskProfile) error {
	return m.Called(ctx, profile).Error(0)
}

type MockRiskAssessmentRepository struct {
	mock.Mock
}

func (m *MockRiskAssessmentRepository) Save(ctx context.Context, assessment *models.RiskAssessment) error {
	return m.Called(ctx, assessment).Error(0)
}

func (m *MockRiskAssessmentRepository) FindByID(ctx context.Context, assessmentID string) (*models.RiskAssessment, error) {
	args := m.Called(ctx, assessmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RiskAssessment), args.Error(1)
}

func (m *MockRiskAssessmentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.RiskAssessment, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RiskAssessment), args.Error(1)
}

func (m *MockRiskAssessmentRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
