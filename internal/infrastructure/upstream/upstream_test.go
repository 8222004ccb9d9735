package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

func geoConfig(url string) *config.GeoConfig {
	return &config.GeoConfig{
		URL:      url,
		Timeout:  time.Second,
		CacheTTL: time.Minute,
		Breaker:  config.GeoBreakerConfig{Failures: 2, Cooldown: time.Hour},
		Burst:    10,
	}
}

func TestGeoLocator_CachesAndDeduplicates(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/8.8.8.8"))
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"country":"us","city":"Mountain View","latitude":37.4,"longitude":-122.1}`))
	}))
	defer srv.Close()

	g, err := NewGeoLocator(geoConfig(srv.URL+"/lookup/{ip}"), nil, logger.NewNoopLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := g.Locate(context.Background(), "8.8.8.8")
			assert.NoError(t, err)
			if loc != nil {
				assert.Equal(t, "US", loc.Country)
			}
		}()
	}
	wg.Wait()

	loc, err := g.Locate(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "Mountain View", loc.City)
	assert.InDelta(t, 37.4, loc.Latitude, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeoLocator_StaticAndPrivate(t *testing.T) {
	cfg := geoConfig("")
	cfg.StaticLookup = []string{"10.1.0.0/16, de, Berlin, 52.52, 13.405"}
	g, err := NewGeoLocator(cfg, nil, logger.NewNoopLogger())
	require.NoError(t, err)

	loc, err := g.Locate(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "DE", loc.Country)
	assert.Equal(t, "10.1.2.3", loc.IP)

	_, err = g.Locate(context.Background(), "192.168.1.1")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = g.Locate(context.Background(), "not-an-ip")
	assert.True(t, errors.IsInvalidRequestError(err))

	cfg.StaticLookup = []string{"10.0.0.0/8,US"}
	_, err = NewGeoLocator(cfg, nil, logger.NewNoopLogger())
	assert.Error(t, err)
}

func TestGeoLocator_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g, err := NewGeoLocator(geoConfig(srv.URL+"/{ip}"), nil, logger.NewNoopLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := g.Locate(context.Background(), "1.1.1.1")
		assert.True(t, errors.IsTransientError(err))
	}
	assert.True(t, g.BreakerOpen())

	_, err = g.Locate(context.Background(), "1.1.1.1")
	assert.True(t, errors.IsTransientError(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGeoLocator_NotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g, err := NewGeoLocator(geoConfig(srv.URL+"/{ip}"), nil, logger.NewNoopLogger())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := g.Locate(context.Background(), "1.1.1.1")
		assert.True(t, errors.IsNotFoundError(err))
	}
	assert.False(t, g.BreakerOpen())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewCircuitBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	b.Failure()
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow(), "probe after cooldown")
	assert.False(t, b.Allow(), "only one probe at a time")
	b.Failure()
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	b.Success()
	assert.True(t, b.Allow())
	assert.False(t, b.Open())
}

func TestReputationClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		switch {
		case strings.HasSuffix(r.URL.Path, "/203.0.113.5"):
			_, _ = w.Write([]byte(`{"threat_score":140,"is_tor":true}`))
		case strings.HasSuffix(r.URL.Path, "/203.0.113.6"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewReputationClient(&config.ReputationConfig{URL: srv.URL + "/ip/{ip}", APIKey: "secret", Timeout: time.Second}, nil, logger.NewNoopLogger())

	rep, err := c.Lookup(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, 100, rep.ThreatScore)
	assert.True(t, rep.IsTor)

	rep, err = c.Lookup(context.Background(), "203.0.113.6")
	require.NoError(t, err)
	assert.Zero(t, rep.ThreatScore)

	_, err = c.Lookup(context.Background(), "203.0.113.7")
	assert.True(t, errors.IsTransientError(err))
}

func TestAccountsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/alice":
			w.WriteHeader(http.StatusOK)
		case "/users/bob":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewAccountsClient(&config.AccountsConfig{URL: srv.URL + "/users/", Timeout: time.Second}, nil, logger.NewNoopLogger())
	ctx := context.Background()

	ok, err := c.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.UserExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.UserExists(ctx, "carol")
	assert.Error(t, err)

	open := NewFailOpenDirectory(c, logger.NewNoopLogger())
	ok, err = open.UserExists(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = open.UserExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}
