package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

const geoUpstream = "geo"

type staticGeoEntry struct {
	network *net.IPNet
	loc     models.GeoLocation
}

type geoResponse struct {
	Country   string   `json:"country"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// GeoLocator resolves addresses through a static table and then a remote HTTP service.
// Remote results are cached in process, concurrent lookups of one address share a
// single request, and the remote side is protected by a circuit breaker and an
// outbound rate limiter.
type GeoLocator struct {
	client      *retryablehttp.Client
	urlTemplate string
	static      []staticGeoEntry
	cache       *cache.Cache
	group       singleflight.Group
	breaker     *CircuitBreaker
	limiter     *rate.Limiter
	metrics     service.Metrics
	log         logger.Logger
}

var _ service.GeoLocator = (*GeoLocator)(nil)

// NewGeoLocator creates a locator from configuration. Malformed static entries are rejected.
func NewGeoLocator(cfg *config.GeoConfig, metrics service.Metrics, log logger.Logger) (*GeoLocator, error) {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	static, err := parseStaticGeo(cfg.StaticLookup)
	if err != nil {
		return nil, err
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = constants.DefaultGeoCacheTTL
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	log = log.WithComponent("GeoLocator")
	return &GeoLocator{
		client:      NewRetryableClient(geoUpstream, cfg.Timeout, cfg.RetryMax, log),
		urlTemplate: cfg.URL,
		static:      static,
		cache:       cache.New(ttl, 2*ttl),
		breaker:     NewCircuitBreaker(cfg.Breaker.Failures, cfg.Breaker.Cooldown),
		limiter:     rate.NewLimiter(limit, burst),
		metrics:     metrics,
		log:         log,
	}, nil
}

func parseStaticGeo(entries []string) ([]staticGeoEntry, error) {
	out := make([]staticGeoEntry, 0, len(entries))
	for _, raw := range entries {
		parts := strings.Split(raw, ",")
		if len(parts) != 5 {
			return nil, errors.ErrInvalidConfig(fmt.Sprintf("geo.static_lookup entry %q must be cidr,country,city,lat,lon", raw))
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		_, network, err := net.ParseCIDR(parts[0])
		if err != nil {
			return nil, errors.ErrInvalidConfig(fmt.Sprintf("geo.static_lookup entry %q has an invalid CIDR", raw))
		}
		lat, errLat := strconv.ParseFloat(parts[3], 64)
		lon, errLon := strconv.ParseFloat(parts[4], 64)
		if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, errors.ErrInvalidConfig(fmt.Sprintf("geo.static_lookup entry %q has invalid coordinates", raw))
		}
		out = append(out, staticGeoEntry{
			network: network,
			loc:     models.GeoLocation{Country: strings.ToUpper(parts[1]), City: parts[2], Latitude: lat, Longitude: lon},
		})
	}
	return out, nil
}

// Locate resolves ip. Static entries win; otherwise private, loopback and link-local
// addresses are never sent upstream and return a not-found error.
func (g *GeoLocator) Locate(ctx context.Context, ip string) (*models.GeoLocation, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, errors.ErrInvalidParameterFormat("ip_address", "IP address")
	}
	for _, e := range g.static {
		if e.network.Contains(addr) {
			loc := e.loc
			loc.IP = ip
			return &loc, nil
		}
	}
	if !isPublic(addr) {
		return nil, errors.ErrNotFound("no geolocation for non-public address").WithMetadata("ip", ip)
	}

	if v, ok := g.cache.Get(ip); ok {
		g.metrics.RecordCacheAccess(geoUpstream, true)
		loc := v.(models.GeoLocation)
		return &loc, nil
	}
	g.metrics.RecordCacheAccess(geoUpstream, false)

	if g.urlTemplate == "" {
		return nil, errors.ErrNotFound("geolocation service not configured").WithMetadata("ip", ip)
	}

	ch := g.group.DoChan(ip, func() (interface{}, error) {
		// A flight that finished between the miss above and now has filled the cache.
		if v, ok := g.cache.Get(ip); ok {
			return v, nil
		}
		return g.fetch(ctx, ip)
	})
	select {
	case <-ctx.Done():
		return nil, errors.ErrUpstreamUnavailable(geoUpstream).WithCause(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		loc := res.Val.(models.GeoLocation)
		return &loc, nil
	}
}

func (g *GeoLocator) fetch(ctx context.Context, ip string) (models.GeoLocation, error) {
	if !g.breaker.Allow() {
		return models.GeoLocation{}, errors.ErrUpstreamUnavailable(geoUpstream).WithMetadata("reason", "circuit open")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.breaker.Release()
		return models.GeoLocation{}, errors.ErrUpstreamUnavailable(geoUpstream).WithCause(err).WithMetadata("reason", "rate limited")
	}

	start := time.Now()
	var body geoResponse
	status, err := getJSON(ctx, g.client, geoUpstream, strings.ReplaceAll(g.urlTemplate, "{ip}", ip), nil, &body)
	switch {
	case err != nil:
	case status == http.StatusNotFound:
		g.metrics.RecordUpstreamCall(geoUpstream, true, time.Since(start))
		g.breaker.Success()
		return models.GeoLocation{}, errors.ErrNotFound("address not found by geolocation service").WithMetadata("ip", ip)
	case status != http.StatusOK:
		err = statusError(geoUpstream, status)
	case body.Country == "" || body.Latitude == nil || body.Longitude == nil:
		err = errors.ErrUpstreamUnavailable(geoUpstream).WithMetadata("reason", "incomplete response")
	}
	g.metrics.RecordUpstreamCall(geoUpstream, err == nil, time.Since(start))
	if err != nil {
		g.breaker.Failure()
		g.log.Warn(ctx, "Geolocation lookup failed", logger.String("ip", ip), logger.Error(err))
		return models.GeoLocation{}, err
	}
	g.breaker.Success()

	loc := models.GeoLocation{
		IP:        ip,
		Country:   strings.ToUpper(body.Country),
		City:      body.City,
		Latitude:  *body.Latitude,
		Longitude: *body.Longitude,
	}
	g.cache.SetDefault(ip, loc)
	return loc, nil
}

// BreakerOpen reports whether remote lookups are currently short-circuited.
func (g *GeoLocator) BreakerOpen() bool {
	return g.breaker.Open()
}

func isPublic(ip net.IP) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast())
}
