package application

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	repomocks "github.com/turtacn/riskguard/internal/domain/repository/mocks"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/internal/domain/service/mocks"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// memProfiles is an in-memory profile store with the same version semantics as the gorm repository.
type memProfiles struct {
	mu       sync.Mutex
	stored   map[string]*models.RiskProfile
	saves    int
	conflict func(stored *models.RiskProfile) // simulates a concurrent writer once
}

func newMemProfiles() *memProfiles {
	return &memProfiles{stored: make(map[string]*models.RiskProfile)}
}

func (m *memProfiles) GetProfile(_ context.Context, userID string) (*models.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[userID].Clone(), nil
}

func (m *memProfiles) SaveProfile(_ context.Context, p *models.RiskProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.conflict != nil {
		fn := m.conflict
		m.conflict = nil
		cur := m.stored[p.UserID]
		if cur == nil {
			cur = models.NewRiskProfile(p.UserID)
		}
		fn(cur)
		cur.Version++
		m.stored[p.UserID] = cur
		return errors.ErrConflict("risk profile was modified concurrently")
	}
	cur := m.stored[p.UserID]
	var version int64
	if cur != nil {
		version = cur.Version
	}
	if p.Version != version {
		return errors.ErrConflict("risk profile was modified concurrently")
	}
	p.Version++
	m.stored[p.UserID] = p.Clone()
	return nil
}

func (m *memProfiles) get(userID string) *models.RiskProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[userID].Clone()
}

type fixture struct {
	profiles    *memProfiles
	assessments *repomocks.MockRiskAssessmentRepository
	accounts    *mocks.MockAccountDirectory
	policy      *mocks.MockPolicyEngine
	audit       *mocks.MockAuditService
	geo         *mocks.MockGeoLocator
	reputation  *mocks.MockIPReputationProvider
	velocity    *mocks.MockVelocityTracker
	settings    *Settings
	svc         *riskAssessmentService
	now         time.Time
}

var (
	berlin = &models.GeoLocation{IP: "203.0.113.7", Country: "DE", City: "Berlin", Latitude: 52.52, Longitude: 13.405}
	london = &models.GeoLocation{IP: "198.51.100.9", Country: "GB", City: "London", Latitude: 51.5074, Longitude: -0.1278}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		profiles:    newMemProfiles(),
		assessments: new(repomocks.MockRiskAssessmentRepository),
		accounts:    new(mocks.MockAccountDirectory),
		policy:      new(mocks.MockPolicyEngine),
		audit:       new(mocks.MockAuditService),
		geo:         new(mocks.MockGeoLocator),
		reputation:  new(mocks.MockIPReputationProvider),
		velocity:    new(mocks.MockVelocityTracker),
		settings:    DefaultSettings(),
		now:         time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
	}
	f.policy.On("Recommend", mock.Anything, mock.Anything, models.RiskLevelLow).Return(models.Actions{models.ActionAllow}).Maybe()
	f.policy.On("Recommend", mock.Anything, mock.Anything, models.RiskLevelMedium).Return(models.Actions{models.ActionAllow, models.ActionMonitor}).Maybe()
	f.policy.On("Recommend", mock.Anything, mock.Anything, models.RiskLevelHigh).Return(models.Actions{models.ActionRequireMFA, models.ActionNotifySecurity}).Maybe()
	f.audit.On("LogEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

func (f *fixture) build() *riskAssessmentService {
	svc := NewRiskAssessmentService(Dependencies{
		Profiles:    f.profiles,
		Assessments: f.assessments,
		Accounts:    f.accounts,
		Policy:      f.policy,
		Audit:       f.audit,
		Collectors: Collaborators{
			Geo:        f.geo,
			Reputation: f.reputation,
			Behavior:   service.HistogramBehaviorAnalyzer{MinSamples: 10},
			Velocity:   f.velocity,
		},
		Logger: logger.NewNoopLogger(),
	}, f.settings).(*riskAssessmentService)
	svc.now = func() time.Time { return f.now }
	f.svc = svc
	return svc
}

func (f *fixture) operation(ip string) *models.OperationContext {
	return &models.OperationContext{
		UserID:        "user-1",
		OperationType: "login",
		IPAddress:     ip,
		DeviceID:      "device-1",
		OccurredAt:    f.now,
	}
}

func factorByName(cs []models.FactorContribution, name string) models.FactorContribution {
	for _, c := range cs {
		if c.Name == name {
			return c
		}
	}
	return models.FactorContribution{}
}

func auditTypes(m *mocks.MockAuditService) []constants.AuditEventType {
	var out []constants.AuditEventType
	for _, call := range m.Calls {
		out = append(out, call.Arguments.Get(1).(*models.AuditEvent).EventType)
	}
	return out
}

func TestAssessRisk_FirstAssessmentLearnsBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := ContextWithActor(context.Background(), "checkout-api")
	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.geo.On("Locate", mock.Anything, berlin.IP).Return(berlin, nil).Once()
	f.reputation.On("Lookup", mock.Anything, berlin.IP).Return(&models.IPReputation{IP: berlin.IP}, nil)
	f.velocity.On("Count", mock.Anything, "user-1", 5*time.Minute, f.now).Return(0, nil)
	f.velocity.On("Record", mock.Anything, "user-1", f.now, 5*time.Minute).Return(nil)

	var saved *models.RiskAssessment
	f.assessments.On("Save", mock.Anything, mock.AnythingOfType("*models.RiskAssessment")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*models.RiskAssessment) }).Return(nil)

	res, err := f.build().AssessRisk(ctx, f.operation(berlin.IP))
	require.NoError(t, err)

	// 0.15*0.25 (first device) + 0.10*0.2 (first location) + 0.15*0.1 (no history)
	assert.Equal(t, 7.25, res.Score)
	assert.Equal(t, models.RiskLevelLow, res.Level)
	assert.Equal(t, models.Actions{models.ActionAllow}, res.RecommendedActions)
	assert.False(t, res.Degraded)
	assert.Len(t, res.ContributingFactors, len(config.KnownFactors))
	assert.Equal(t, 0.25, factorByName(res.ContributingFactors, config.FactorDeviceNovelty).Value)

	require.NotNil(t, saved)
	assert.Equal(t, res.AssessmentID, saved.ID)
	assert.Equal(t, "device-1", saved.DeviceFingerprint)

	p := f.profiles.get("user-1")
	require.NotNil(t, p)
	assert.EqualValues(t, 1, p.AssessmentCount)
	assert.Equal(t, 7.25, p.AverageScore)
	assert.Equal(t, 1, p.HourHistogram[14])
	assert.Equal(t, 1, p.OperationCounts["login"])
	assert.True(t, p.HasTrustedDevice("device-1"))
	require.Len(t, p.TrustedLocations, 1)
	assert.Equal(t, "DE", p.TrustedLocations[0].Country)
	require.NotNil(t, p.LastLocation)
	assert.Equal(t, f.now, p.LastLocation.ObservedAt)

	assert.Equal(t, []constants.AuditEventType{constants.AuditEventRiskAssessed}, auditTypes(f.audit))
	event := f.audit.Calls[0].Arguments.Get(1).(*models.AuditEvent)
	assert.Equal(t, "checkout-api", event.Actor)
	assert.Equal(t, res.AssessmentID, event.AssessmentID)

	f.geo.AssertExpectations(t)
	f.velocity.AssertExpectations(t)
}

func TestAssessRisk_ImpossibleTravelFloorsLevel(t *testing.T) {
	f := newFixture(t)
	last := f.now.Add(-10 * time.Minute)
	stored := models.NewRiskProfile("user-1")
	stored.Version = 4
	stored.AssessmentCount = 3
	stored.AverageScore = 10
	stored.TrustDevice("device-1", last, 10)
	stored.TrustLocation(models.TrustedLocation{Country: "DE", City: "Berlin", Latitude: berlin.Latitude, Longitude: berlin.Longitude, LastSeen: last}, 10)
	stored.LastLocation = &models.GeoPoint{Latitude: berlin.Latitude, Longitude: berlin.Longitude, Country: "DE", ObservedAt: last}
	f.profiles.stored["user-1"] = stored

	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.geo.On("Locate", mock.Anything, london.IP).Return(london, nil).Once()
	f.reputation.On("Lookup", mock.Anything, london.IP).Return(&models.IPReputation{IP: london.IP}, nil)
	f.velocity.On("Count", mock.Anything, "user-1", mock.Anything, mock.Anything).Return(0, nil)
	f.velocity.On("Record", mock.Anything, "user-1", mock.Anything, mock.Anything).Return(nil)
	f.assessments.On("Save", mock.Anything, mock.Anything).Return(nil)

	res, err := f.build().AssessRisk(context.Background(), f.operation(london.IP))
	require.NoError(t, err)

	assert.Equal(t, 1.0, factorByName(res.ContributingFactors, config.FactorImpossibleTravel).Value)
	assert.Equal(t, 1.0, factorByName(res.ContributingFactors, config.FactorLocationNovelty).Value)
	// 0.25*1 + 0.10*1 + 0.15*0.1 = 0.365 is medium by score, the floor lifts it.
	assert.Equal(t, 36.5, res.Score)
	assert.Equal(t, models.RiskLevelHigh, res.Level)
	assert.Equal(t, models.Actions{models.ActionRequireMFA, models.ActionNotifySecurity}, res.RecommendedActions)
	assert.Equal(t, config.FactorImpossibleTravel, res.ContributingFactors[0].Name)

	p := f.profiles.get("user-1")
	assert.EqualValues(t, 5, p.Version)
	assert.Len(t, p.TrustedLocations, 1, "high risk operations are not learned as trusted")
	assert.Equal(t, "GB", p.LastLocation.Country)
	assert.InDelta(t, 0.2*36.5+0.8*10, p.AverageScore, 0.001)

	assert.Equal(t, []constants.AuditEventType{constants.AuditEventRiskAssessed, constants.AuditEventHighRisk}, auditTypes(f.audit))
}

func TestAssessRisk_SlowFactorDegrades(t *testing.T) {
	f := newFixture(t)
	f.settings.FactorTimeout = 50 * time.Millisecond
	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.geo.On("Locate", mock.Anything, berlin.IP).After(300*time.Millisecond).Return(berlin, nil)
	f.reputation.On("Lookup", mock.Anything, berlin.IP).Return(nil, errors.ErrUpstreamUnavailable("reputation"))
	f.velocity.On("Count", mock.Anything, "user-1", mock.Anything, mock.Anything).Return(0, nil)
	f.velocity.On("Record", mock.Anything, "user-1", mock.Anything, mock.Anything).Return(nil)
	f.assessments.On("Save", mock.Anything, mock.Anything).Return(nil)

	start := time.Now()
	res, err := f.build().AssessRisk(context.Background(), f.operation(berlin.IP))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "a slow collaborator must not block the assessment")

	assert.True(t, res.Degraded)
	loc := factorByName(res.ContributingFactors, config.FactorLocationNovelty)
	assert.True(t, loc.Degraded)
	assert.Equal(t, 0.5, loc.Value)
	assert.Equal(t, "degraded: timeout", loc.Detail)
	rep := factorByName(res.ContributingFactors, config.FactorIPReputation)
	assert.True(t, rep.Degraded)
	assert.Equal(t, "degraded: service_unavailable", rep.Detail)

	p := f.profiles.get("user-1")
	assert.Nil(t, p.LastLocation)
	assert.Contains(t, auditTypes(f.audit), constants.AuditEventFactorDegraded)
}

func TestAssessRisk_RetriesProfileConflicts(t *testing.T) {
	f := newFixture(t)
	f.settings.Weights = map[string]float64{config.FactorBehavioral: 1}
	f.profiles.conflict = func(p *models.RiskProfile) {
		p.AssessmentCount++
		p.HourHistogram[3]++
		p.OperationCounts["payment"]++
	}
	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.assessments.On("Save", mock.Anything, mock.Anything).Return(nil)

	svc := f.build()
	svc.velocity = nil
	op := f.operation("")
	op.DeviceID = ""

	_, err := svc.AssessRisk(context.Background(), op)
	require.NoError(t, err)

	p := f.profiles.get("user-1")
	assert.Equal(t, 2, f.profiles.saves)
	assert.EqualValues(t, 2, p.AssessmentCount, "the concurrent increment is kept")
	assert.Equal(t, 1, p.HourHistogram[3])
	assert.Equal(t, 1, p.HourHistogram[14])
	assert.Equal(t, 1, p.OperationCounts["payment"])
	assert.Equal(t, 1, p.OperationCounts["login"])
}

func TestAssessRisk_Errors(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		f := newFixture(t)
		op := f.operation("not-an-ip")
		op.OperationType = "Login Now"
		_, err := f.build().AssessRisk(context.Background(), op)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRequestError(err))
		rerr, _ := errors.AsRiskError(err)
		assert.Equal(t, "operation_type,ip_address", rerr.Metadata()["fields"])
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		f.accounts.On("UserExists", mock.Anything, "user-1").Return(false, nil)
		_, err := f.build().AssessRisk(context.Background(), f.operation(berlin.IP))
		assert.True(t, errors.IsNotFoundError(err))
		f.assessments.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("directory unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.accounts.On("UserExists", mock.Anything, "user-1").Return(false, stderrors.New("connection refused"))
		_, err := f.build().AssessRisk(context.Background(), f.operation(berlin.IP))
		assert.True(t, errors.IsTransientError(err))
	})

	t.Run("record not persisted", func(t *testing.T) {
		f := newFixture(t)
		f.settings.Weights = map[string]float64{config.FactorBehavioral: 1}
		f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
		f.assessments.On("Save", mock.Anything, mock.Anything).Return(errors.ErrDatabaseOperation("insert", stderrors.New("disk full")))
		_, err := f.build().AssessRisk(context.Background(), f.operation(""))
		rerr, ok := errors.AsRiskError(err)
		require.True(t, ok)
		assert.Equal(t, constants.ErrCodeServerError, rerr.Code())
		assert.Nil(t, f.profiles.get("user-1"), "profile is untouched when the record is lost")
		assert.Empty(t, f.audit.Calls)
	})
}

func TestAssessRisk_ProfileAndAuditFailuresDoNotFail(t *testing.T) {
	f := newFixture(t)
	f.settings.Weights = map[string]float64{config.FactorBehavioral: 1}
	f.audit = new(mocks.MockAuditService)
	f.audit.On("LogEvent", mock.Anything, mock.Anything).Return(stderrors.New("broker down"))
	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.assessments.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.velocity.On("Record", mock.Anything, "user-1", mock.Anything, mock.Anything).Return(errors.ErrUpstreamUnavailable("redis"))
	svc := f.build()
	// Every write loses the race.
	svc.profiles = conflictingProfiles{f.profiles}

	res, err := svc.AssessRisk(context.Background(), f.operation(""))
	require.NoError(t, err)
	assert.Equal(t, models.RiskLevelLow, res.Level)
	f.velocity.AssertExpectations(t)
}

func TestAssessRisk_TravelLearnsPositionWithoutLocationNovelty(t *testing.T) {
	f := newFixture(t)
	f.settings.Weights = map[string]float64{config.FactorImpossibleTravel: 1, config.FactorBehavioral: 1}
	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.geo.On("Locate", mock.Anything, berlin.IP).After(20*time.Millisecond).Return(berlin, nil).Once()
	f.geo.On("Locate", mock.Anything, london.IP).After(20*time.Millisecond).Return(london, nil).Once()
	f.velocity.On("Record", mock.Anything, "user-1", mock.Anything, mock.Anything).Return(nil)
	f.assessments.On("Save", mock.Anything, mock.Anything).Return(nil)
	svc := f.build()

	res, err := svc.AssessRisk(context.Background(), f.operation(berlin.IP))
	require.NoError(t, err)
	assert.Equal(t, 0.0, factorByName(res.ContributingFactors, config.FactorImpossibleTravel).Value)
	assert.False(t, res.Degraded)

	p := f.profiles.get("user-1")
	require.NotNil(t, p.LastLocation, "the first position is learned")
	assert.Equal(t, "DE", p.LastLocation.Country)

	// Berlin to London in ten minutes.
	f.now = f.now.Add(10 * time.Minute)
	res, err = svc.AssessRisk(context.Background(), f.operation(london.IP))
	require.NoError(t, err)
	assert.Equal(t, 1.0, factorByName(res.ContributingFactors, config.FactorImpossibleTravel).Value)
	assert.Equal(t, models.RiskLevelHigh, res.Level)
	f.geo.AssertExpectations(t)
}

type conflictingProfiles struct{ *memProfiles }

func (conflictingProfiles) SaveProfile(context.Context, *models.RiskProfile) error {
	return errors.ErrConflict("risk profile was modified concurrently")
}

func TestReconfigureSwapsWeights(t *testing.T) {
	f := newFixture(t)
	f.accounts.On("UserExists", mock.Anything, "user-1").Return(true, nil)
	f.assessments.On("Save", mock.Anything, mock.Anything).Return(nil)
	svc := f.build()
	svc.velocity = nil

	cfg := config.Default()
	for name, fc := range cfg.Risk.Factors {
		fc.Enabled = name == config.FactorBehavioral
		cfg.Risk.Factors[name] = fc
	}
	svc.Reconfigure(cfg)

	res, err := svc.AssessRisk(context.Background(), f.operation(""))
	require.NoError(t, err)
	require.Len(t, res.ContributingFactors, 1)
	assert.Equal(t, 10.0, res.Score)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	svc := f.build()
	ctx := context.Background()

	_, err := svc.GetAssessmentDetails(ctx, "not-a-uuid")
	assert.True(t, errors.IsInvalidRequestError(err))

	id := "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	f.assessments.On("FindByID", mock.Anything, id).Return(&models.RiskAssessment{ID: id}, nil)
	a, err := svc.GetAssessmentDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)

	_, err = svc.GetUserRiskProfile(ctx, "nobody")
	assert.True(t, errors.IsNotFoundError(err))

	f.assessments.On("ListByUser", mock.Anything, "user-1", constants.DefaultAssessmentListLimit).
		Return([]*models.RiskAssessment{{ID: id}}, nil)
	list, err := svc.ListUserAssessments(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.ListUserAssessments(ctx, "user-1", constants.MaxAssessmentListLimit+1)
	assert.True(t, errors.IsInvalidRequestError(err))
	_, err = svc.ListUserAssessments(ctx, "user-1", -1)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestGetUserRiskProfile_StoreFailure(t *testing.T) {
	profiles := new(repomocks.MockRiskProfileRepository)
	profiles.On("GetProfile", mock.Anything, "user-1").
		Return(nil, errors.ErrDatabaseOperation("get profile", stderrors.New("connection refused")))
	svc := NewRiskAssessmentService(Dependencies{Profiles: profiles}, nil)

	_, err := svc.GetUserRiskProfile(context.Background(), "user-1")
	require.Error(t, err)
	assert.False(t, errors.IsNotFoundError(err))
	assert.Equal(t, 500, errors.HTTPStatusOf(err))
	profiles.AssertExpectations(t)
}
