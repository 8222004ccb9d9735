package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/riskguard/internal/domain/models"
)

func TestHeaderFingerprinter(t *testing.T) {
	fp := HeaderFingerprinter{}

	assert.Equal(t, "dev-1", fp.Fingerprint(&models.OperationContext{DeviceID: " dev-1 ", UserAgent: "x"}))
	assert.Empty(t, fp.Fingerprint(&models.OperationContext{}))

	a := fp.Fingerprint(&models.OperationContext{UserAgent: "Mozilla/5.0", AcceptLanguage: "en-US"})
	b := fp.Fingerprint(&models.OperationContext{UserAgent: "Mozilla/5.0", AcceptLanguage: "en-US"})
	c := fp.Fingerprint(&models.OperationContext{UserAgent: "Mozilla/5.0", AcceptLanguage: "de-DE"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len("ua:")+64)
}

func profileWithHours(counts map[int]int, ops map[string]int) *models.RiskProfile {
	p := models.NewRiskProfile("u1")
	for h, c := range counts {
		p.HourHistogram[h] = c
	}
	for k, v := range ops {
		p.OperationCounts[k] = v
	}
	return p
}

func TestHistogramBehaviorAnalyzer(t *testing.T) {
	a := HistogramBehaviorAnalyzer{MinSamples: 10}
	at := func(h int) *models.OperationContext {
		return &models.OperationContext{OperationType: "login", OccurredAt: time.Date(2026, 1, 1, h, 30, 0, 0, time.UTC)}
	}

	v, _ := a.Analyze(at(3), nil)
	assert.Equal(t, 0.1, v)

	v, _ = a.Analyze(at(3), profileWithHours(map[int]int{3: 5}, map[string]int{"login": 5}))
	assert.Equal(t, 0.1, v, "below min samples")

	uniform := map[int]int{}
	for h := 0; h < 24; h++ {
		uniform[h] = 2
	}
	v, _ = a.Analyze(at(3), profileWithHours(uniform, map[string]int{"login": 48}))
	assert.InDelta(t, 0, v, 1e-9)

	// All activity between 08:00 and 10:00; 03:00 is unseen.
	daytime := map[int]int{8: 10, 9: 10, 10: 10}
	v, _ = a.Analyze(at(3), profileWithHours(daytime, map[string]int{"login": 30}))
	assert.Equal(t, 1.0, v)

	v, _ = a.Analyze(at(9), profileWithHours(daytime, map[string]int{"login": 30}))
	assert.Equal(t, 0.0, v)

	v, detail := a.Analyze(&models.OperationContext{OperationType: "wire_transfer", OccurredAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		profileWithHours(daytime, map[string]int{"login": 30}))
	assert.Equal(t, 0.3, v)
	assert.Contains(t, detail, "first wire_transfer")

	// Midnight wraps to hour 23.
	wrap := map[int]int{23: 10, 0: 10, 1: 10}
	v, _ = a.Analyze(at(0), profileWithHours(wrap, map[string]int{"login": 30}))
	assert.Equal(t, 0.0, v)
}
