package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/riskguard/internal/application/dto"
	"github.com/turtacn/riskguard/pkg/logger"
)

// HealthChecker probes one dependency.
type HealthChecker func(ctx context.Context) error

const healthCheckTimeout = 2 * time.Second

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checks map[string]HealthChecker
	log    logger.Logger
}

// NewHealthHandler creates a new HealthHandler. Only the dependencies present in the
// deployment are passed in; an empty map makes readiness always succeed.
func NewHealthHandler(checks map[string]HealthChecker, log logger.Logger) *HealthHandler {
	if checks == nil {
		checks = map[string]HealthChecker{}
	}
	return &HealthHandler{
		checks: checks,
		log:    log.WithComponent("HealthHandler"),
	}
}

// LivenessCheck reports that the process is running. It never touches dependencies.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "alive", Timestamp: time.Now().UTC()})
}

// ReadinessCheck probes every registered dependency in parallel and returns 503 when any fails.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())

	status, httpStatus := "ready", http.StatusOK
	for name, result := range checks {
		if result != "ok" {
			status, httpStatus = "unavailable", http.StatusServiceUnavailable
			h.log.Warn(c.Request.Context(), "Readiness check failed",
				logger.String("dependency", name), logger.String("result", result))
		}
	}

	c.JSON(httpStatus, dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func (h *HealthHandler) performChecks(parent context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(parent, healthCheckTimeout)
	defer cancel()

	var wg sync.WaitGroup
	mu := &sync.Mutex{}
	results := make(map[string]string, len(h.checks))

	wg.Add(len(h.checks))
	for name, check := range h.checks {
		go func(name string, check HealthChecker) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = "error: " + err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return results
}
