package application

import (
	"context"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/repository"
)

// profileOracle loads the behavioral baseline of a user for scoring.
type profileOracle struct {
	profileRepo repository.RiskProfileRepository
}

// newProfileOracle creates a profile oracle backed by the profile repository.
func newProfileOracle(profileRepo repository.RiskProfileRepository) *profileOracle {
	return &profileOracle{profileRepo: profileRepo}
}

// Baseline retrieves the risk profile for a given user.
// If no profile is found in the repository, it returns an empty profile so that a first
// assessment is scored against a neutral baseline.
// Baseline 获取用户的风险画像，不存在时返回空画像。
func (o *profileOracle) Baseline(ctx context.Context, userID string) (*models.RiskProfile, error) {
	profile, err := o.profileRepo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err // An actual error occurred
	}
	if profile == nil {
		return models.NewRiskProfile(userID), nil
	}
	if profile.OperationCounts == nil {
		profile.OperationCounts = make(map[string]int)
	}
	return profile, nil
}

// Existing returns the stored profile or nil when the user has never been assessed.
func (o *profileOracle) Existing(ctx context.Context, userID string) (*models.RiskProfile, error) {
	return o.profileRepo.GetProfile(ctx, userID)
}
