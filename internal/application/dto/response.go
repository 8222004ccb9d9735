// Package dto holds the request and response shapes shared by the HTTP, gRPC and CLI surfaces.
package dto

import (
	"time"

	"github.com/turtacn/riskguard/internal/domain/models"
)

// AssessmentList 用户评估记录列表响应
type AssessmentList struct {
	UserID      string                   `json:"user_id"`
	Assessments []*models.RiskAssessment `json:"assessments"`
	Count       int                      `json:"count"`
}

// NewAssessmentList wraps a page of records. A user without records gets an empty array, not null.
func NewAssessmentList(userID string, items []*models.RiskAssessment) *AssessmentList {
	if items == nil {
		items = []*models.RiskAssessment{}
	}
	return &AssessmentList{UserID: userID, Assessments: items, Count: len(items)}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ScoreReport is the output of an offline scoring dry run.
type ScoreReport struct {
	Score               float64                     `json:"score" yaml:"score"`
	Level               models.RiskLevel            `json:"level" yaml:"level"`
	RecommendedActions  models.Actions              `json:"recommended_actions" yaml:"recommended_actions"`
	ContributingFactors []models.FactorContribution `json:"contributing_factors" yaml:"contributing_factors"`
}
