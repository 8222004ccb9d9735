package service

import (
	"math"

	"github.com/turtacn/riskguard/internal/domain/models"
)

// Thresholds holds the lower score bound of each non-low level.
// Thresholds 保存各风险等级的分数下限。
type Thresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultThresholds returns medium 30, high 60, critical 85.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 30, High: 60, Critical: 85}
}

// Aggregate combines factor values into a 0-100 score as a weighted average over
// factors with positive weight. Values are clamped to [0,1]; the score is rounded to
// two decimals. Factors without a weight are reported with weight and contribution 0.
// Aggregate 按权重对因子值做加权平均，得到 0-100 的风险分数。
func Aggregate(values []models.FactorValue, weights map[string]float64) (float64, []models.FactorContribution) {
	var totalWeight float64
	for _, v := range values {
		if w := weights[v.Name]; w > 0 {
			totalWeight += w
		}
	}

	contributions := make([]models.FactorContribution, 0, len(values))
	var weighted float64
	for _, v := range values {
		val := clamp01(v.Value)
		w := weights[v.Name]
		if w < 0 {
			w = 0
		}
		c := models.FactorContribution{
			Name:     v.Name,
			Value:    round(val, 4),
			Weight:   w,
			Degraded: v.Degraded,
			Detail:   v.Detail,
		}
		if w > 0 && totalWeight > 0 {
			weighted += w * val
			c.Contribution = round(100*w*val/totalWeight, 2)
		}
		contributions = append(contributions, c)
	}
	models.SortContributions(contributions)

	if totalWeight == 0 {
		return 0, contributions
	}
	score := 100 * weighted / totalWeight
	return round(math.Max(0, math.Min(100, score)), 2), contributions
}

// Classify maps a score to a level. A score equal to a threshold belongs to the higher level.
// floors maps a factor name to the minimum level imposed when that factor reads 1.
// Classify 将分数映射为风险等级，等于阈值时归入更高等级。
func Classify(score float64, t Thresholds, floors map[string]models.RiskLevel, values []models.FactorValue) models.RiskLevel {
	level := models.RiskLevelLow
	switch {
	case score >= t.Critical:
		level = models.RiskLevelCritical
	case score >= t.High:
		level = models.RiskLevelHigh
	case score >= t.Medium:
		level = models.RiskLevelMedium
	}

	if len(floors) == 0 {
		return level
	}
	for _, v := range values {
		floor, ok := floors[v.Name]
		if !ok || v.Degraded || v.Value < 1 {
			continue
		}
		level = level.Max(floor)
	}
	return level
}

// LinearRamp maps x onto [0,1]: 0 at or below lo, 1 at or above hi, linear between.
func LinearRamp(x, lo, hi float64) float64 {
	if x <= lo {
		return 0
	}
	if x >= hi {
		return 1
	}
	return (x - lo) / (hi - lo)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp01 bounds v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 { return clamp01(v) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
