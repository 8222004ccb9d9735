// Package upstream contains HTTP clients for the external services consulted during
// risk assessment: geolocation, IP reputation and the account directory.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// maxBodyBytes bounds how much of an upstream response is decoded.
const maxBodyBytes = 1 << 20

// NewRetryableClient builds the retrying HTTP client shared by all upstreams.
// Retries cover connection errors, 429 and 5xx responses.
func NewRetryableClient(name string, timeout time.Duration, retryMax int, log logger.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 20 * time.Millisecond
	c.RetryWaitMax = 200 * time.Millisecond
	c.HTTPClient.Timeout = timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = &leveledLogger{log: log.WithComponent("upstream." + name)}
	return c
}

// getJSON performs a GET and decodes a 200 response into dest (skipped when dest is nil).
// It returns the status code so callers can give other statuses their own meaning.
func getJSON(ctx context.Context, c *retryablehttp.Client, upstream, url string, header http.Header, dest interface{}) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.ErrServerError(fmt.Sprintf("invalid %s request", upstream)).WithCause(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return 0, errors.ErrUpstreamUnavailable(upstream).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || dest == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dest); err != nil {
		return resp.StatusCode, errors.ErrUpstreamUnavailable(upstream).
			WithCause(err).
			WithMetadata("reason", "undecodable response")
	}
	return resp.StatusCode, nil
}

// statusError converts an unexpected upstream status into an error.
func statusError(upstream string, status int) error {
	return errors.ErrUpstreamUnavailable(upstream).WithMetadata("status", status)
}

// leveledLogger adapts logger.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logger.Logger
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

func (l *leveledLogger) Error(msg string, kv ...interface{}) {
	l.log.Warn(context.Background(), msg, kvFields(kv)...)
}

func (l *leveledLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(context.Background(), msg, kvFields(kv)...)
}

func (l *leveledLogger) Debug(msg string, kv ...interface{}) {
	l.log.Debug(context.Background(), msg, kvFields(kv)...)
}

func (l *leveledLogger) Warn(msg string, kv ...interface{}) {
	l.log.Warn(context.Background(), msg, kvFields(kv)...)
}
