package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
)

// VelocityTracker keeps one sorted set per user whose scores are assessment timestamps in milliseconds.
type VelocityTracker struct {
	client    redis.UniversalClient
	retention time.Duration
}

var _ service.VelocityTracker = (*VelocityTracker)(nil)

// NewVelocityTracker creates a tracker. retention is the minimum time entries are kept;
// Record may extend it per call.
func NewVelocityTracker(client redis.UniversalClient, retention time.Duration) *VelocityTracker {
	if retention <= 0 {
		retention = constants.DefaultVelocityWindow
	}
	return &VelocityTracker{client: client, retention: retention}
}

func velocityKey(userID string) string {
	return constants.RedisKeyVelocity + userID
}

// Record adds one assessment and trims entries older than the larger of retention and
// the tracker's own minimum.
func (v *VelocityTracker) Record(ctx context.Context, userID string, at time.Time, retention time.Duration) error {
	retention = max(retention, v.retention)
	key := velocityKey(userID)
	ms := at.UnixMilli()
	cutoff := at.Add(-retention).UnixMilli()

	_, err := v.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: strconv.FormatInt(ms, 10) + ":" + uuid.NewString()})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, key, retention+time.Minute)
		return nil
	})
	if err != nil {
		return errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return nil
}

// Count returns the number of entries in (now-window, now].
func (v *VelocityTracker) Count(ctx context.Context, userID string, window time.Duration, now time.Time) (int, error) {
	min := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	max := strconv.FormatInt(now.UnixMilli(), 10)
	n, err := v.client.ZCount(ctx, velocityKey(userID), min, max).Result()
	if err != nil {
		return 0, errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return int(n), nil
}
