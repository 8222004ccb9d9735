package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/riskguard/internal/domain/models"
)

func defaultWeights() map[string]float64 {
	return map[string]float64{
		"ip_reputation_score":    0.20,
		"device_novelty_score":   0.15,
		"location_novelty_score": 0.10,
		"impossible_travel":      0.25,
		"behavioral_anomaly":     0.15,
		"operation_velocity":     0.15,
	}
}

func TestAggregate(t *testing.T) {
	t.Run("weighted average", func(t *testing.T) {
		values := []models.FactorValue{
			{Name: "ip_reputation_score", Value: 1},
			{Name: "device_novelty_score", Value: 1},
			{Name: "location_novelty_score", Value: 0},
			{Name: "impossible_travel", Value: 0},
			{Name: "behavioral_anomaly", Value: 0},
			{Name: "operation_velocity", Value: 0},
		}
		score, contributions := Aggregate(values, defaultWeights())
		assert.Equal(t, 35.0, score)
		require.Len(t, contributions, 6)
		assert.Equal(t, "ip_reputation_score", contributions[0].Name)
		assert.Equal(t, 20.0, contributions[0].Contribution)
		assert.Equal(t, 15.0, contributions[1].Contribution)
	})

	t.Run("all ones is 100 and all zeros is 0", func(t *testing.T) {
		var ones, zeros []models.FactorValue
		for name := range defaultWeights() {
			ones = append(ones, models.FactorValue{Name: name, Value: 1})
			zeros = append(zeros, models.FactorValue{Name: name, Value: 0})
		}
		s1, _ := Aggregate(ones, defaultWeights())
		s0, _ := Aggregate(zeros, defaultWeights())
		assert.Equal(t, 100.0, s1)
		assert.Equal(t, 0.0, s0)
	})

	t.Run("out of range values are clamped", func(t *testing.T) {
		score, contributions := Aggregate([]models.FactorValue{
			{Name: "a", Value: 3},
			{Name: "b", Value: -2},
		}, map[string]float64{"a": 1, "b": 1})
		assert.Equal(t, 50.0, score)
		assert.Equal(t, 1.0, contributions[0].Value)
	})

	t.Run("factor without weight contributes nothing", func(t *testing.T) {
		score, contributions := Aggregate([]models.FactorValue{
			{Name: "a", Value: 0.5},
			{Name: "unknown", Value: 1},
		}, map[string]float64{"a": 2})
		assert.Equal(t, 50.0, score)
		require.Len(t, contributions, 2)
		assert.Equal(t, "unknown", contributions[1].Name)
		assert.Zero(t, contributions[1].Weight)
		assert.Zero(t, contributions[1].Contribution)
	})

	t.Run("rounded to two decimals", func(t *testing.T) {
		score, _ := Aggregate([]models.FactorValue{{Name: "a", Value: 1.0 / 3}}, map[string]float64{"a": 1})
		assert.Equal(t, 33.33, score)
	})

	t.Run("no weights yields zero", func(t *testing.T) {
		score, _ := Aggregate([]models.FactorValue{{Name: "a", Value: 1}}, nil)
		assert.Zero(t, score)
	})

	t.Run("monotone in each factor", func(t *testing.T) {
		base := []models.FactorValue{{Name: "a", Value: 0.2}, {Name: "b", Value: 0.4}}
		higher := []models.FactorValue{{Name: "a", Value: 0.7}, {Name: "b", Value: 0.4}}
		w := map[string]float64{"a": 0.3, "b": 0.7}
		s1, _ := Aggregate(base, w)
		s2, _ := Aggregate(higher, w)
		assert.Greater(t, s2, s1)
	})
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0, models.RiskLevelLow},
		{29.99, models.RiskLevelLow},
		{30, models.RiskLevelMedium},
		{59.99, models.RiskLevelMedium},
		{60, models.RiskLevelHigh},
		{85, models.RiskLevelCritical},
		{100, models.RiskLevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score, th, nil, nil), "score %v", tt.score)
	}
}

func TestClassifyFloors(t *testing.T) {
	th := DefaultThresholds()
	floors := map[string]models.RiskLevel{"impossible_travel": models.RiskLevelHigh}

	t.Run("floor raises level", func(t *testing.T) {
		level := Classify(25, th, floors, []models.FactorValue{{Name: "impossible_travel", Value: 1}})
		assert.Equal(t, models.RiskLevelHigh, level)
	})

	t.Run("floor never lowers level", func(t *testing.T) {
		level := Classify(90, th, floors, []models.FactorValue{{Name: "impossible_travel", Value: 1}})
		assert.Equal(t, models.RiskLevelCritical, level)
	})

	t.Run("partial value does not trigger floor", func(t *testing.T) {
		level := Classify(25, th, floors, []models.FactorValue{{Name: "impossible_travel", Value: 0.9}})
		assert.Equal(t, models.RiskLevelLow, level)
	})

	t.Run("degraded value does not trigger floor", func(t *testing.T) {
		level := Classify(25, th, floors, []models.FactorValue{{Name: "impossible_travel", Value: 1, Degraded: true}})
		assert.Equal(t, models.RiskLevelLow, level)
	})
}

func TestGeoMath(t *testing.T) {
	// Berlin to Paris is roughly 878 km.
	d := HaversineKm(52.52, 13.405, 48.8566, 2.3522)
	assert.InDelta(t, 878, d, 10)
	assert.InDelta(t, 0, HaversineKm(1, 1, 1, 1), 1e-9)

	assert.Equal(t, 60.0, TravelSpeedKmh(1, time.Second))

	assert.Zero(t, ImpossibleTravelValue(50, time.Minute, 100, 900))
	assert.Equal(t, 1.0, ImpossibleTravelValue(878, 30*time.Minute, 100, 900))
	assert.Zero(t, ImpossibleTravelValue(878, 10*time.Hour, 100, 900))
	// 675 km/h sits halfway between 450 and 900.
	assert.InDelta(t, 0.5, ImpossibleTravelValue(675, time.Hour, 100, 900), 1e-9)
}

func TestLinearRamp(t *testing.T) {
	assert.Zero(t, LinearRamp(5, 5, 20))
	assert.Equal(t, 1.0, LinearRamp(20, 5, 20))
	assert.InDelta(t, 0.5, LinearRamp(12.5, 5, 20), 1e-9)
}
