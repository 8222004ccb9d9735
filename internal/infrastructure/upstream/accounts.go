package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/logger"
)

const accountsUpstream = "accounts"

// AccountsClient checks user existence against the identity system.
// GET {url}/{user_id}: 200 means the user exists, 404 means it does not.
type AccountsClient struct {
	client  *retryablehttp.Client
	baseURL string
	metrics service.Metrics
	log     logger.Logger
}

var _ service.AccountDirectory = (*AccountsClient)(nil)

func NewAccountsClient(cfg *config.AccountsConfig, metrics service.Metrics, log logger.Logger) *AccountsClient {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	log = log.WithComponent("AccountsClient")
	return &AccountsClient{
		client:  NewRetryableClient(accountsUpstream, cfg.Timeout, cfg.RetryMax, log),
		baseURL: strings.TrimRight(cfg.URL, "/"),
		metrics: metrics,
		log:     log,
	}
}

func (a *AccountsClient) UserExists(ctx context.Context, userID string) (bool, error) {
	start := time.Now()
	status, err := getJSON(ctx, a.client, accountsUpstream, a.baseURL+"/"+url.PathEscape(userID), nil, nil)
	if err == nil && status != http.StatusOK && status != http.StatusNotFound {
		err = statusError(accountsUpstream, status)
	}
	a.metrics.RecordUpstreamCall(accountsUpstream, err == nil, time.Since(start))
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// FailOpenDirectory treats directory transport failures as "user exists".
// Unknown users are still reported as unknown.
type FailOpenDirectory struct {
	next service.AccountDirectory
	log  logger.Logger
}

func NewFailOpenDirectory(next service.AccountDirectory, log logger.Logger) *FailOpenDirectory {
	return &FailOpenDirectory{next: next, log: log.WithComponent("AccountDirectory")}
}

func (f *FailOpenDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	exists, err := f.next.UserExists(ctx, userID)
	if err != nil {
		f.log.Warn(ctx, "Account directory unavailable, failing open",
			logger.String("user_id", userID), logger.Error(err))
		return true, nil
	}
	return exists, nil
}

// OpenDirectory accepts every user. It is used when no account service is configured.
type OpenDirectory struct{}

func (OpenDirectory) UserExists(context.Context, string) (bool, error) { return true, nil }
