package application

import (
	"time"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
)

// Settings is the immutable scoring configuration used by one assessment.
// A new value is swapped in whenever the configuration file is reloaded.
// Settings 是一次评估使用的不可变评分配置，配置热加载时整体替换。
type Settings struct {
	FactorTimeout time.Duration
	Weights       map[string]float64
	Defaults      map[string]float64
	Thresholds    service.Thresholds
	Floors        map[string]models.RiskLevel
	Travel        config.TravelConfig
	Velocity      config.VelocityConfig
	Behavior      config.BehaviorConfig
	FlaggedBoost  float64

	EWMAAlpha           float64
	MaxTrustedDevices   int
	MaxTrustedLocations int
	TrustMaxLevel       models.RiskLevel
}

const neutralFactorValue = 0.5

// NewSettings derives scoring settings from a validated configuration.
func NewSettings(cfg *config.Config) *Settings {
	floors := make(map[string]models.RiskLevel, len(cfg.Risk.Floors))
	for factor, name := range cfg.Risk.Floors {
		if l, err := models.ParseRiskLevel(name); err == nil {
			floors[factor] = l
		}
	}
	trustMax, err := models.ParseRiskLevel(cfg.Profile.TrustMaxLevel)
	if err != nil {
		trustMax = models.RiskLevelLow
	}
	return &Settings{
		FactorTimeout: cfg.Risk.FactorTimeout,
		Weights:       cfg.Risk.Weights(),
		Defaults:      cfg.Risk.Defaults(),
		Thresholds: service.Thresholds{
			Medium:   cfg.Risk.Thresholds.Medium,
			High:     cfg.Risk.Thresholds.High,
			Critical: cfg.Risk.Thresholds.Critical,
		},
		Floors:              floors,
		Travel:              cfg.Risk.Travel,
		Velocity:            cfg.Risk.Velocity,
		Behavior:            cfg.Risk.Behavior,
		FlaggedBoost:        cfg.Risk.FlaggedBoost,
		EWMAAlpha:           cfg.Profile.EWMAAlpha,
		MaxTrustedDevices:   cfg.Profile.MaxTrustedDevices,
		MaxTrustedLocations: cfg.Profile.MaxTrustedLocations,
		TrustMaxLevel:       trustMax,
	}
}

// DefaultSettings returns the settings of the built-in configuration.
func DefaultSettings() *Settings {
	return NewSettings(config.Default())
}

// enabled reports whether a factor takes part in scoring.
func (s *Settings) enabled(factor string) bool {
	return s.Weights[factor] > 0
}

// fallback returns the neutral value used when a collector cannot produce a reading.
func (s *Settings) fallback(factor string) float64 {
	if v, ok := s.Defaults[factor]; ok {
		return v
	}
	return neutralFactorValue
}
