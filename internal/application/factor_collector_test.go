package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service/mocks"
	"github.com/turtacn/riskguard/pkg/logger"
)

func valueOf(t *testing.T, col *Collection, name string) models.FactorValue {
	t.Helper()
	for _, v := range col.Values {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("factor %s not collected", name)
	return models.FactorValue{}
}

func onlyFactor(name string) *Settings {
	st := DefaultSettings()
	st.Weights = map[string]float64{name: 1}
	return st
}

func TestIPReputationFactor(t *testing.T) {
	ctx := context.Background()
	st := onlyFactor(config.FactorIPReputation)

	blocklist := new(mocks.MockIPBlocklist)
	blocklist.On("IsBlocked", mock.Anything, "192.0.2.66").Return(true, nil)
	blocklist.On("IsBlocked", mock.Anything, mock.Anything).Return(false, nil)

	reputation := new(mocks.MockIPReputationProvider)
	reputation.On("Lookup", mock.Anything, "192.0.2.10").Return(&models.IPReputation{ThreatScore: 20, IsTor: true}, nil)
	reputation.On("Lookup", mock.Anything, "192.0.2.11").Return(&models.IPReputation{ThreatScore: 90, IsProxy: true}, nil)
	reputation.On("Lookup", mock.Anything, "192.0.2.12").Return(&models.IPReputation{ThreatScore: 10, IsHosting: true}, nil)
	reputation.On("Lookup", mock.Anything, "192.0.2.13").Return(&models.IPReputation{ThreatScore: 40}, nil)

	fc := NewFactorCollector(Collaborators{Reputation: reputation, Blocklist: blocklist}, nil, logger.NewNoopLogger())

	cases := []struct {
		ip       string
		want     float64
		degraded bool
	}{
		{"10.1.2.3", 0, false},
		{"127.0.0.1", 0, false},
		{"192.0.2.66", 1, false},
		{"192.0.2.10", 0.8, false},
		{"192.0.2.11", 0.9, false},
		{"192.0.2.12", 0.3, false},
		{"192.0.2.13", 0.4, false},
		{"", 0.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.ip, func(t *testing.T) {
			op := &models.OperationContext{UserID: "u1", OperationType: "login", IPAddress: tc.ip, OccurredAt: time.Now()}
			v := valueOf(t, fc.Collect(ctx, op, nil, st), config.FactorIPReputation)
			assert.InDelta(t, tc.want, v.Value, 1e-9)
			assert.Equal(t, tc.degraded, v.Degraded)
		})
	}
	blocklist.AssertNotCalled(t, "IsBlocked", mock.Anything, "10.1.2.3")
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(*models.OperationContext, *models.RiskProfile) (float64, string) {
	panic("histogram corrupted")
}

func TestCollect_MisbehavingCollaboratorsDegrade(t *testing.T) {
	ctx := context.Background()
	reputation := new(mocks.MockIPReputationProvider)
	reputation.On("Lookup", mock.Anything, "192.0.2.20").Return(nil, nil)
	fc := NewFactorCollector(Collaborators{Reputation: reputation, Behavior: panickingAnalyzer{}}, nil, logger.NewNoopLogger())

	st := DefaultSettings()
	st.Weights = map[string]float64{config.FactorIPReputation: 1, config.FactorBehavioral: 1}
	op := &models.OperationContext{UserID: "u1", OperationType: "login", IPAddress: "192.0.2.20", OccurredAt: time.Now()}

	col := fc.Collect(ctx, op, nil, st)
	rep := valueOf(t, col, config.FactorIPReputation)
	assert.True(t, rep.Degraded)
	assert.Equal(t, 0.5, rep.Value)
	behavior := valueOf(t, col, config.FactorBehavioral)
	assert.True(t, behavior.Degraded)
	assert.Equal(t, "degraded: error", behavior.Detail)
}

func TestDeviceNoveltyFactor(t *testing.T) {
	ctx := context.Background()
	st := onlyFactor(config.FactorDeviceNovelty)
	fc := NewFactorCollector(Collaborators{}, nil, logger.NewNoopLogger())
	now := time.Now()

	profile := models.NewRiskProfile("u1")
	op := &models.OperationContext{UserID: "u1", OperationType: "login", DeviceID: "d1", OccurredAt: now}
	assert.Equal(t, 0.25, valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorDeviceNovelty).Value)

	profile.TrustDevice("d1", now, 10)
	assert.Equal(t, 0.0, valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorDeviceNovelty).Value)

	op.DeviceID = "d2"
	assert.Equal(t, 1.0, valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorDeviceNovelty).Value)

	profile.Flagged = true
	op.DeviceID = "d1"
	v := valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorDeviceNovelty)
	assert.InDelta(t, 0.2, v.Value, 1e-9)
	assert.Contains(t, v.Detail, "flagged")

	op.DeviceID = ""
	v = valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorDeviceNovelty)
	assert.True(t, v.Degraded, "no fingerprint material")
}

func TestLocationFactors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	munich := &models.GeoLocation{Country: "DE", City: "Munich", Latitude: 48.137, Longitude: 11.575}
	potsdam := &models.GeoLocation{Country: "DE", City: "Potsdam", Latitude: 52.39, Longitude: 13.06}

	geo := new(mocks.MockGeoLocator)
	geo.On("Locate", mock.Anything, "192.0.2.1").Return(potsdam, nil)
	geo.On("Locate", mock.Anything, "192.0.2.2").Return(munich, nil)
	geo.On("Locate", mock.Anything, "192.0.2.3").Return(london, nil)
	fc := NewFactorCollector(Collaborators{Geo: geo}, nil, logger.NewNoopLogger())

	st := DefaultSettings()
	st.Weights = map[string]float64{config.FactorLocationNovelty: 1, config.FactorImpossibleTravel: 1}

	profile := models.NewRiskProfile("u1")
	profile.TrustLocation(models.TrustedLocation{Country: "DE", Latitude: berlin.Latitude, Longitude: berlin.Longitude, LastSeen: now}, 10)
	profile.LastLocation = &models.GeoPoint{Latitude: berlin.Latitude, Longitude: berlin.Longitude, Country: "DE", ObservedAt: now.Add(-2 * time.Hour)}

	op := func(ip string) *models.OperationContext {
		return &models.OperationContext{UserID: "u1", OperationType: "login", IPAddress: ip, OccurredAt: now}
	}

	col := fc.Collect(ctx, op("192.0.2.1"), profile, st)
	assert.Equal(t, 0.0, valueOf(t, col, config.FactorLocationNovelty).Value, "within 100 km")
	assert.Equal(t, 0.0, valueOf(t, col, config.FactorImpossibleTravel).Value)
	require.NotNil(t, col.Location)
	assert.Equal(t, "Potsdam", col.Location.City)

	// ~500 km in two hours is a plausible trip inside the same country.
	col = fc.Collect(ctx, op("192.0.2.2"), profile, st)
	assert.Equal(t, 0.4, valueOf(t, col, config.FactorLocationNovelty).Value)
	assert.Equal(t, 0.0, valueOf(t, col, config.FactorImpossibleTravel).Value)

	// ~930 km in two hours is 465 km/h, just above half of 900 km/h.
	col = fc.Collect(ctx, op("192.0.2.3"), profile, st)
	assert.Equal(t, 1.0, valueOf(t, col, config.FactorLocationNovelty).Value)
	travel := valueOf(t, col, config.FactorImpossibleTravel).Value
	assert.Greater(t, travel, 0.0)
	assert.Less(t, travel, 0.1)

	fresh := models.NewRiskProfile("u2")
	col = fc.Collect(ctx, op("192.0.2.3"), fresh, st)
	assert.Equal(t, 0.2, valueOf(t, col, config.FactorLocationNovelty).Value)
	assert.Equal(t, 0.0, valueOf(t, col, config.FactorImpossibleTravel).Value)
	geo.AssertNumberOfCalls(t, "Locate", 4)
}

func TestVelocityFactor(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	tracker := new(mocks.MockVelocityTracker)
	tracker.On("Count", mock.Anything, "slow", mock.Anything, now).Return(3, nil)
	tracker.On("Count", mock.Anything, "busy", mock.Anything, now).Return(11, nil)
	tracker.On("Count", mock.Anything, "bot", mock.Anything, now).Return(50, nil)
	fc := NewFactorCollector(Collaborators{Velocity: tracker}, nil, logger.NewNoopLogger())
	st := onlyFactor(config.FactorVelocity)

	for user, want := range map[string]float64{"slow": 0, "busy": 0.4, "bot": 1} {
		op := &models.OperationContext{UserID: user, OperationType: "login", OccurredAt: now}
		assert.InDelta(t, want, valueOf(t, fc.Collect(ctx, op, nil, st), config.FactorVelocity).Value, 1e-9, user)
	}
}

func TestDisabledFactorsAreNotRun(t *testing.T) {
	geo := new(mocks.MockGeoLocator)
	fc := NewFactorCollector(Collaborators{Geo: geo}, nil, logger.NewNoopLogger())
	st := onlyFactor(config.FactorBehavioral)

	op := &models.OperationContext{UserID: "u1", OperationType: "login", IPAddress: "192.0.2.1", OccurredAt: time.Now()}
	col := fc.Collect(context.Background(), op, nil, st)
	require.Len(t, col.Values, 1)
	assert.Equal(t, config.FactorBehavioral, col.Values[0].Name)
	assert.Nil(t, col.Location)
	geo.AssertNotCalled(t, "Locate", mock.Anything, mock.Anything)
}

func TestBehavioralFactorFollowsSettings(t *testing.T) {
	ctx := context.Background()
	fc := NewFactorCollector(Collaborators{}, nil, logger.NewNoopLogger())
	profile := models.NewRiskProfile("u1")
	profile.HourHistogram[12] = 3
	profile.AssessmentCount = 3
	profile.OperationCounts["login"] = 3
	op := &models.OperationContext{UserID: "u1", OperationType: "login", OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	st := onlyFactor(config.FactorBehavioral)
	assert.Equal(t, 0.1, valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorBehavioral).Value, "below min_samples")

	st.Behavior.MinSamples = 2
	assert.Equal(t, 0.0, valueOf(t, fc.Collect(ctx, op, profile, st), config.FactorBehavioral).Value)
}
