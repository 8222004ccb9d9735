package redis

import (
	"context"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
)

// IPBlocklist stores blocked addresses and CIDRs in a Redis set. Entries configured
// statically are always blocked and cannot be removed at runtime.
type IPBlocklist struct {
	client redis.UniversalClient
	static []*net.IPNet
}

var _ service.IPBlocklist = (*IPBlocklist)(nil)

// NewIPBlocklist creates a blocklist. Invalid static entries are rejected.
func NewIPBlocklist(client redis.UniversalClient, static []string) (*IPBlocklist, error) {
	b := &IPBlocklist{client: client}
	for _, entry := range static {
		n, err := ParseBlockEntry(entry)
		if err != nil {
			return nil, err
		}
		b.static = append(b.static, n)
	}
	return b, nil
}

// ParseBlockEntry parses an address or CIDR. A bare address becomes a host network.
func ParseBlockEntry(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, errors.ErrInvalidParameterFormat("blocklist entry", "IP address or CIDR")
		}
		return n, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, errors.ErrInvalidParameterFormat("blocklist entry", "IP address or CIDR")
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func (b *IPBlocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false, errors.ErrInvalidParameterFormat("ip_address", "IP address")
	}
	for _, n := range b.static {
		if n.Contains(addr) {
			return true, nil
		}
	}
	if b.client == nil {
		return false, nil
	}

	entries, err := b.client.SMembers(ctx, constants.RedisKeyBlocklist).Result()
	if err != nil {
		return false, errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	for _, e := range entries {
		n, err := ParseBlockEntry(e)
		if err != nil {
			continue
		}
		if n.Contains(addr) {
			return true, nil
		}
	}
	return false, nil
}

func (b *IPBlocklist) Add(ctx context.Context, entry string) error {
	n, err := ParseBlockEntry(entry)
	if err != nil {
		return err
	}
	if err := b.client.SAdd(ctx, constants.RedisKeyBlocklist, n.String()).Err(); err != nil {
		return errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return nil
}

func (b *IPBlocklist) Remove(ctx context.Context, entry string) error {
	n, err := ParseBlockEntry(entry)
	if err != nil {
		return err
	}
	if err := b.client.SRem(ctx, constants.RedisKeyBlocklist, n.String()).Err(); err != nil {
		return errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return nil
}

func (b *IPBlocklist) List(ctx context.Context) ([]string, error) {
	entries, err := b.client.SMembers(ctx, constants.RedisKeyBlocklist).Result()
	if err != nil {
		return nil, errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return entries, nil
}
