package upstream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/logger"
)

const reputationUpstream = "reputation"

type reputationResponse struct {
	ThreatScore int  `json:"threat_score"`
	IsTor       bool `json:"is_tor"`
	IsProxy     bool `json:"is_proxy"`
	IsHosting   bool `json:"is_hosting"`
}

// ReputationClient queries a threat-intelligence service for IP reputation.
type ReputationClient struct {
	client  *retryablehttp.Client
	url     string
	apiKey  string
	metrics service.Metrics
	log     logger.Logger
}

var _ service.IPReputationProvider = (*ReputationClient)(nil)

func NewReputationClient(cfg *config.ReputationConfig, metrics service.Metrics, log logger.Logger) *ReputationClient {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	log = log.WithComponent("ReputationClient")
	return &ReputationClient{
		client:  NewRetryableClient(reputationUpstream, cfg.Timeout, cfg.RetryMax, log),
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		metrics: metrics,
		log:     log,
	}
}

// Lookup returns the reputation of ip. An address unknown to the service (404) has a
// clean reputation.
func (r *ReputationClient) Lookup(ctx context.Context, ip string) (*models.IPReputation, error) {
	header := http.Header{}
	if r.apiKey != "" {
		header.Set("X-API-Key", r.apiKey)
	}

	start := time.Now()
	var body reputationResponse
	status, err := getJSON(ctx, r.client, reputationUpstream, strings.ReplaceAll(r.url, "{ip}", ip), header, &body)
	if err == nil && status != http.StatusOK && status != http.StatusNotFound {
		err = statusError(reputationUpstream, status)
	}
	r.metrics.RecordUpstreamCall(reputationUpstream, err == nil, time.Since(start))
	if err != nil {
		r.log.Warn(ctx, "Reputation lookup failed", logger.String("ip", ip), logger.Error(err))
		return nil, err
	}
	if status == http.StatusNotFound {
		return &models.IPReputation{IP: ip}, nil
	}

	score := body.ThreatScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &models.IPReputation{
		IP:          ip,
		ThreatScore: score,
		IsTor:       body.IsTor,
		IsProxy:     body.IsProxy,
		IsHosting:   body.IsHosting,
	}, nil
}

// NoReputation is used when no reputation service is configured. Every address is clean,
// so only the blocklist contributes to the factor.
type NoReputation struct{}

func (NoReputation) Lookup(_ context.Context, ip string) (*models.IPReputation, error) {
	return &models.IPReputation{IP: ip}, nil
}
