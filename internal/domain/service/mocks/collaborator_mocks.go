package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/riskguard/internal/domain/models"
)

type MockAccountDirectory struct {
	mock.Mock
}

func (m *MockAccountDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockGeoLocator struct {
	mock.Mock
}

func (m *MockGeoLocator) Locate(ctx context.Context, ip string) (*models.GeoLocation, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GeoLocation), args.Error(1)
}

type MockIPReputationProvider struct {
	mock.Mock
}

func (m *MockIPReputationProvider) Lookup(ctx context.Context, ip string) (*models.IPReputation, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IPReputation), args.Error(1)
}

type MockIPBlocklist struct {
	mock.Mock
}

func (m *MockIPBlocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	args := m.Called(ctx, ip)
	return args.Bool(0), args.Error(1)
}

func (m *MockIPBlocklist) Add(ctx context.Context, entry string) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockIPBlocklist) Remove(ctx context.Context, entry string) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockIPBlocklist) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockVelocityTracker struct {
	mock.Mock
}

func (m *MockVelocityTracker) Record(ctx context.Context, userID string, at time.Time, retention time.Duration) error {
	return m.Called(ctx, userID, at, retention).Error(0)
}

func (m *MockVelocityTracker) Count(ctx context.Context, userID string, window time.Duration, now time.Time) (int, error) {
	args := m.Called(ctx, userID, window, now)
	return args.Int(0), args.Error(1)
}

type MockPolicyEngine struct {
	mock.Mock
}

func (m *MockPolicyEngine) Recommend(ctx context.Context, operationType string, level models.RiskLevel) models.Actions {
	args := m.Called(ctx, operationType, level)
	return args.Get(0).(models.Actions)
}
