package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/turtacn/riskguard/internal/domain/models"
)

// HeaderFingerprinter uses the explicit device ID when present and otherwise hashes the
// user agent together with the accept-language header.
// HeaderFingerprinter 优先使用设备 ID，否则对 UA 与语言头做哈希。
type HeaderFingerprinter struct{}

var _ DeviceFingerprinter = HeaderFingerprinter{}

func (HeaderFingerprinter) Fingerprint(op *models.OperationContext) string {
	if id := strings.TrimSpace(op.DeviceID); id != "" {
		return id
	}
	ua := strings.TrimSpace(op.UserAgent)
	lang := strings.TrimSpace(op.AcceptLanguage)
	if ua == "" && lang == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ua + "|" + lang))
	return "ua:" + hex.EncodeToString(sum[:])
}

// HistogramBehaviorAnalyzer compares the hour of the operation with the user's hour
// histogram, and flags operation types the user has never performed.
type HistogramBehaviorAnalyzer struct {
	// MinSamples is the history size below which the user is treated as new.
	MinSamples int
}

var _ BehaviorAnalyzer = HistogramBehaviorAnalyzer{}

const (
	newUserBehaviorValue    = 0.1
	unseenOperationMinValue = 0.3
)

// Analyze returns the anomaly value. With a uniform histogram every hour has
// ratio 1 and the value is 0; hours never used before read 1.
func (a HistogramBehaviorAnalyzer) Analyze(op *models.OperationContext, profile *models.RiskProfile) (float64, string) {
	if profile == nil {
		return newUserBehaviorValue, "no history"
	}
	total := profile.TotalHourSamples()
	if total < a.MinSamples || total == 0 {
		return newUserBehaviorValue, fmt.Sprintf("insufficient history (%d samples)", total)
	}

	h := op.OccurredAt.UTC().Hour()
	window := profile.HourHistogram[(h+23)%24] + profile.HourHistogram[h] + profile.HourHistogram[(h+1)%24]
	share := float64(window) / (3 * float64(total))
	v := Clamp01(1 - share*24)
	detail := fmt.Sprintf("hour %02d UTC share %.3f", h, share)

	if profile.OperationCounts[op.OperationType] == 0 {
		v = math.Max(v, unseenOperationMinValue)
		detail += ", first " + op.OperationType
	}
	return v, detail
}
