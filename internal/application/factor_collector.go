package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

var tracer = otel.Tracer(constants.ServiceName + "/application")

// Collaborators are the signal sources consulted by the factor collectors.
// Any of them may be nil; factors depending on a missing collaborator degrade.
// Collaborators 是因子采集器使用的外部信号源，缺失时对应因子降级。
type Collaborators struct {
	Geo           service.GeoLocator
	Reputation    service.IPReputationProvider
	Blocklist     service.IPBlocklist
	Fingerprinter service.DeviceFingerprinter
	Behavior      service.BehaviorAnalyzer
	Velocity      service.VelocityTracker
}

// Collection is the outcome of running every enabled collector for one operation.
type Collection struct {
	Values      []models.FactorValue
	Fingerprint string
	// Location is the resolved position of the operation's IP, nil when unknown.
	Location *models.GeoLocation
}

// Degraded reports whether any factor fell back to its default.
func (c *Collection) Degraded() bool {
	for _, v := range c.Values {
		if v.Degraded {
			return true
		}
	}
	return false
}

// DegradedFactors returns the names of factors that fell back to their default.
func (c *Collection) DegradedFactors() []string {
	var out []string
	for _, v := range c.Values {
		if v.Degraded {
			out = append(out, v.Name)
		}
	}
	return out
}

// observation is the per-operation input shared by the collectors.
type observation struct {
	op          *models.OperationContext
	profile     *models.RiskProfile
	settings    *Settings
	fingerprint string
	location    *lazyLocation
}

// lazyLocation geolocates the operation at most once. Location novelty and impossible
// travel share the lookup.
type lazyLocation struct {
	once  sync.Once
	done  chan struct{}
	fetch func() (*models.GeoLocation, error)
	loc   *models.GeoLocation
	err   error
}

func newLazyLocation(fetch func() (*models.GeoLocation, error)) *lazyLocation {
	return &lazyLocation{done: make(chan struct{}), fetch: fetch}
}

func (l *lazyLocation) get() (*models.GeoLocation, error) {
	l.once.Do(func() {
		l.loc, l.err = l.fetch()
		close(l.done)
	})
	return l.loc, l.err
}

// wait starts the lookup if nobody did and returns its location, or nil when it failed
// or ctx ended first.
func (l *lazyLocation) wait(ctx context.Context) *models.GeoLocation {
	go func() { _, _ = l.get() }()
	select {
	case <-l.done:
	case <-ctx.Done():
	}
	select {
	case <-l.done:
		if l.err == nil {
			return l.loc
		}
	default:
	}
	return nil
}

type factorFunc func(ctx context.Context, obs *observation) (float64, string, error)

// FactorCollector runs the factor collectors concurrently, each under its own deadline.
// FactorCollector 并发运行各因子采集器，每个采集器有独立超时。
type FactorCollector struct {
	collab  Collaborators
	factors map[string]factorFunc
	metrics service.Metrics
	logger  logger.Logger
}

// NewFactorCollector creates a collector over the given collaborators.
func NewFactorCollector(collab Collaborators, metrics service.Metrics, log logger.Logger) *FactorCollector {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if collab.Fingerprinter == nil {
		collab.Fingerprinter = service.HeaderFingerprinter{}
	}
	fc := &FactorCollector{
		collab:  collab,
		metrics: metrics,
		logger:  log.WithComponent("FactorCollector"),
	}
	fc.factors = map[string]factorFunc{
		config.FactorIPReputation:     fc.ipReputation,
		config.FactorDeviceNovelty:    fc.deviceNovelty,
		config.FactorLocationNovelty:  fc.locationNovelty,
		config.FactorImpossibleTravel: fc.impossibleTravel,
		config.FactorBehavioral:       fc.behavioral,
		config.FactorVelocity:         fc.velocity,
	}
	return fc
}

type factorResult struct {
	value  float64
	detail string
	err    error
}

// Collect runs every enabled factor. It never fails: a collector that errors or misses
// its deadline yields the configured default with Degraded set.
func (fc *FactorCollector) Collect(ctx context.Context, op *models.OperationContext, profile *models.RiskProfile, st *Settings) *Collection {
	if profile == nil {
		profile = models.NewRiskProfile(op.UserID)
	}
	geoCtx, cancelGeo := context.WithTimeout(ctx, st.FactorTimeout)
	defer cancelGeo()

	obs := &observation{
		op:          op,
		profile:     profile,
		settings:    st,
		fingerprint: fc.collab.Fingerprinter.Fingerprint(op),
	}
	obs.location = newLazyLocation(func() (*models.GeoLocation, error) {
		if op.IPAddress == "" {
			return nil, errors.ErrMissingRequiredParameter("ip_address")
		}
		if fc.collab.Geo == nil {
			return nil, errors.ErrUpstreamUnavailable("geo")
		}
		return fc.collab.Geo.Locate(geoCtx, op.IPAddress)
	})

	names := make([]string, 0, len(config.KnownFactors))
	for _, name := range config.KnownFactors {
		if st.enabled(name) {
			names = append(names, name)
		}
	}
	values := make([]models.FactorValue, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			values[i] = fc.run(gctx, name, obs)
			return nil
		})
	}
	_ = g.Wait()

	col := &Collection{Values: values, Fingerprint: obs.fingerprint}
	if st.enabled(config.FactorLocationNovelty) || st.enabled(config.FactorImpossibleTravel) {
		// The profile learns its position even when no collector needed the lookup.
		col.Location = obs.location.wait(geoCtx)
	}
	return col
}

func (fc *FactorCollector) run(ctx context.Context, name string, obs *observation) models.FactorValue {
	ctx, span := tracer.Start(ctx, "risk.factor."+name, trace.WithAttributes(attribute.String("risk.factor", name)))
	defer span.End()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, obs.settings.FactorTimeout)
	defer cancel()

	done := make(chan factorResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- factorResult{err: fmt.Errorf("factor %s panicked: %v", name, r)}
			}
		}()
		v, detail, err := fc.factors[name](ctx, obs)
		done <- factorResult{value: v, detail: detail, err: err}
	}()

	var res factorResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = factorResult{err: ctx.Err()}
	}

	fv := models.FactorValue{Name: name, Value: service.Clamp01(res.value), Detail: res.detail}
	if res.err != nil {
		fv = models.FactorValue{
			Name:     name,
			Value:    obs.settings.fallback(name),
			Degraded: true,
			Detail:   "degraded: " + reason(res.err),
		}
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		fc.logger.Warn(ctx, "Risk factor degraded, using default value",
			logger.String("factor", name),
			logger.String("user_id", obs.op.UserID),
			logger.Float64("default", fv.Value),
			logger.Error(res.err),
		)
	}
	span.SetAttributes(attribute.Float64("risk.factor.value", fv.Value), attribute.Bool("risk.factor.degraded", fv.Degraded))
	fc.metrics.RecordFactor(name, fv.Degraded, time.Since(start))
	return fv
}

func reason(err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if rerr, ok := errors.AsRiskError(err); ok {
		return string(rerr.Code())
	}
	return "error"
}

// ================================================================================
// Collectors
// ================================================================================

func (fc *FactorCollector) ipReputation(ctx context.Context, obs *observation) (float64, string, error) {
	raw := obs.op.IPAddress
	if raw == "" {
		return 0, "", errors.ErrMissingRequiredParameter("ip_address")
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return 0, "", errors.ErrInvalidParameterFormat("ip_address", "IPv4 or IPv6 address")
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return 0, "private address", nil
	}

	if fc.collab.Blocklist != nil {
		blocked, err := fc.collab.Blocklist.IsBlocked(ctx, raw)
		if err != nil {
			return 0, "", err
		}
		if blocked {
			return 1, "blocklisted", nil
		}
	}
	if fc.collab.Reputation == nil {
		return 0, "no reputation source", nil
	}

	rep, err := fc.collab.Reputation.Lookup(ctx, raw)
	if err != nil {
		return 0, "", err
	}
	if rep == nil {
		return 0, "", errors.ErrUpstreamUnavailable("reputation")
	}
	v := float64(rep.ThreatScore) / 100
	detail := fmt.Sprintf("threat score %d", rep.ThreatScore)
	switch {
	case rep.IsTor:
		v, detail = max(v, 0.8), detail+", tor exit"
	case rep.IsProxy:
		v, detail = max(v, 0.5), detail+", proxy"
	case rep.IsHosting:
		v, detail = max(v, 0.3), detail+", hosting"
	}
	return v, detail, nil
}

func (fc *FactorCollector) deviceNovelty(_ context.Context, obs *observation) (float64, string, error) {
	if obs.fingerprint == "" {
		return 0, "", errors.ErrMissingRequiredParameter("device_id or user_agent")
	}
	var v float64
	var detail string
	switch {
	case obs.profile.HasTrustedDevice(obs.fingerprint):
		v, detail = 0, "trusted device"
	case len(obs.profile.TrustedDevices) == 0:
		v, detail = 0.25, "first device"
	default:
		v, detail = 1, "new device"
	}
	return flaggedBoost(v, detail, obs)
}

func (fc *FactorCollector) locationNovelty(_ context.Context, obs *observation) (float64, string, error) {
	loc, err := obs.location.get()
	if err != nil {
		return 0, "", err
	}
	var v float64
	var detail string
	if len(obs.profile.TrustedLocations) == 0 {
		v, detail = 0.2, "first location"
	} else if i, km := nearestLocation(obs.profile, loc.Latitude, loc.Longitude); i >= 0 && km <= obs.settings.Travel.MinDistanceKm {
		v, detail = 0, fmt.Sprintf("%.0f km from trusted location", km)
	} else if sameCountry(obs.profile, loc.Country) {
		v, detail = 0.4, "trusted country "+loc.Country
	} else {
		v, detail = 1, "new country "+loc.Country
	}
	return flaggedBoost(v, detail, obs)
}

func (fc *FactorCollector) impossibleTravel(_ context.Context, obs *observation) (float64, string, error) {
	last := obs.profile.LastLocation
	if last == nil {
		return 0, "no previous location", nil
	}
	loc, err := obs.location.get()
	if err != nil {
		return 0, "", err
	}
	km := service.HaversineKm(last.Latitude, last.Longitude, loc.Latitude, loc.Longitude)
	elapsed := obs.op.OccurredAt.Sub(last.ObservedAt)
	v := service.ImpossibleTravelValue(km, elapsed, obs.settings.Travel.MinDistanceKm, obs.settings.Travel.MaxSpeedKmh)
	return v, fmt.Sprintf("%.0f km at %.0f km/h", km, service.TravelSpeedKmh(km, elapsed)), nil
}

func (fc *FactorCollector) behavioral(_ context.Context, obs *observation) (float64, string, error) {
	analyzer := fc.collab.Behavior
	if analyzer == nil {
		analyzer = service.HistogramBehaviorAnalyzer{MinSamples: obs.settings.Behavior.MinSamples}
	}
	v, detail := analyzer.Analyze(obs.op, obs.profile)
	return v, detail, nil
}

func (fc *FactorCollector) velocity(ctx context.Context, obs *observation) (float64, string, error) {
	if fc.collab.Velocity == nil {
		return 0, "", errors.ErrUpstreamUnavailable("velocity")
	}
	cfg := obs.settings.Velocity
	n, err := fc.collab.Velocity.Count(ctx, obs.op.UserID, cfg.Window, obs.op.OccurredAt)
	if err != nil {
		return 0, "", err
	}
	v := service.LinearRamp(float64(n), float64(cfg.Low), float64(cfg.High))
	return v, fmt.Sprintf("%d operations in %s", n, cfg.Window), nil
}

// flaggedBoost raises novelty factors for profiles flagged by confirmed fraud.
func flaggedBoost(v float64, detail string, obs *observation) (float64, string, error) {
	if !obs.profile.Flagged || obs.settings.FlaggedBoost <= 0 {
		return v, detail, nil
	}
	return service.Clamp01(v + obs.settings.FlaggedBoost), detail + ", flagged profile", nil
}

// nearestLocation returns the index of the trusted location closest to (lat, lon) and its
// distance, or -1 when the profile has none.
func nearestLocation(p *models.RiskProfile, lat, lon float64) (int, float64) {
	best, bestKm := -1, 0.0
	for i, l := range p.TrustedLocations {
		km := service.HaversineKm(l.Latitude, l.Longitude, lat, lon)
		if best < 0 || km < bestKm {
			best, bestKm = i, km
		}
	}
	return best, bestKm
}

func sameCountry(p *models.RiskProfile, country string) bool {
	if country == "" {
		return false
	}
	for _, l := range p.TrustedLocations {
		if l.Country == country {
			return true
		}
	}
	return false
}
