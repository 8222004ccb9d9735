package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ================================================================================
// Risk Level
// ================================================================================

// RiskLevel is the qualitative classification of a risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevels lists all levels from least to most severe.
var RiskLevels = []RiskLevel{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical}

// Rank returns the position of the level in the ordering low < medium < high < critical.
// Unknown levels rank below low.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelLow:
		return 0
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether l is as severe as other or more.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// Max returns the more severe of the two levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > l.Rank() {
		return other
	}
	return l
}

// ParseRiskLevel converts a string to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if l.Rank() < 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// ================================================================================
// Actions
// ================================================================================

// Action is a recommended response to an assessed operation.
type Action string

const (
	ActionAllow          Action = "allow"
	ActionMonitor        Action = "monitor"
	ActionNotifyUser     Action = "notify_user"
	ActionRequireCaptcha Action = "require_captcha"
	ActionRequireMFA     Action = "require_mfa"
	ActionNotifySecurity Action = "notify_security"
	ActionDeny           Action = "deny"
)

var actionSeverity = map[Action]int{
	ActionAllow:          0,
	ActionMonitor:        1,
	ActionNotifyUser:     1,
	ActionRequireCaptcha: 2,
	ActionRequireMFA:     3,
	ActionNotifySecurity: 3,
	ActionDeny:           4,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionSeverity[a]
	return ok
}

// Severity returns how restrictive the action is. Unknown actions return -1.
func (a Action) Severity() int {
	if s, ok := actionSeverity[a]; ok {
		return s
	}
	return -1
}

// Actions is an ordered list of recommended actions.
type Actions []Action

// Severity returns the maximum severity in the list, -1 when empty.
func (as Actions) Severity() int {
	max := -1
	for _, a := range as {
		if s := a.Severity(); s > max {
			max = s
		}
	}
	return max
}

// Contains reports whether the list holds a.
func (as Actions) Contains(a Action) bool {
	for _, x := range as {
		if x == a {
			return true
		}
	}
	return false
}

// Strings converts the list for logging and wire encoding.
func (as Actions) Strings() []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = string(a)
	}
	return out
}

// ================================================================================
// Operation Context (input)
// ================================================================================

// OperationContext describes the sensitive operation being assessed.
type OperationContext struct {
	UserID         string                 `json:"user_id" validate:"required,max=128"`
	OperationType  string                 `json:"operation_type" validate:"required,optype"`
	IPAddress      string                 `json:"ip_address,omitempty" validate:"optip"`
	DeviceID       string                 `json:"device_id,omitempty" validate:"max=256"`
	UserAgent      string                 `json:"user_agent,omitempty" validate:"max=1024"`
	AcceptLanguage string                 `json:"accept_language,omitempty" validate:"max=256"`
	OperationData  map[string]interface{} `json:"operation_data,omitempty"`
	ContextData    map[string]interface{} `json:"context_data,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at,omitempty"`
}

// ================================================================================
// Factors
// ================================================================================

// FactorValue is the normalized output of one factor collector.
type FactorValue struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Degraded bool    `json:"degraded,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// FactorContribution explains how much one factor moved the final score.
type FactorContribution struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Degraded     bool    `json:"degraded,omitempty"`
	Detail       string  `json:"detail,omitempty"`
}

// SortContributions orders factors by contribution, largest first, then by name.
func SortContributions(cs []FactorContribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Contribution != cs[j].Contribution {
			return cs[i].Contribution > cs[j].Contribution
		}
		return cs[i].Name < cs[j].Name
	})
}

// ================================================================================
// Geolocation
// ================================================================================

// GeoLocation is the result of resolving an IP address.
type GeoLocation struct {
	IP        string  `json:"ip"`
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeoPoint is a location observed at a point in time.
type GeoPoint struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Country    string    `json:"country"`
	City       string    `json:"city,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// IPReputation is the verdict of the reputation provider for an address.
type IPReputation struct {
	IP          string `json:"ip"`
	ThreatScore int    `json:"threat_score"` // 0-100
	IsTor       bool   `json:"is_tor"`
	IsProxy     bool   `json:"is_proxy"`
	IsHosting   bool   `json:"is_hosting"`
}

// ================================================================================
// Risk Profile
// ================================================================================

// TrustedDevice is a device fingerprint previously seen in a low-risk context.
type TrustedDevice struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// TrustedLocation is a location previously seen in a low-risk context.
type TrustedLocation struct {
	Country   string    `json:"country"`
	City      string    `json:"city,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	LastSeen  time.Time `json:"last_seen"`
}

// RiskProfile is the per-user behavioral baseline.
type RiskProfile struct {
	UserID           string            `json:"user_id"`
	AverageScore     float64           `json:"average_score"`
	AssessmentCount  int64             `json:"assessment_count"`
	TrustedDevices   []TrustedDevice   `json:"trusted_devices"`
	TrustedLocations []TrustedLocation `json:"trusted_locations"`
	LastLocation     *GeoPoint         `json:"last_location,omitempty"`
	HourHistogram    [24]int           `json:"hour_histogram"`
	OperationCounts  map[string]int    `json:"operation_counts"`
	Flagged          bool              `json:"flagged"`
	LastAssessedAt   *time.Time        `json:"last_assessed_at,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewRiskProfile returns the empty baseline used for users seen for the first time.
func NewRiskProfile(userID string) *RiskProfile {
	return &RiskProfile{
		UserID:          userID,
		OperationCounts: make(map[string]int),
	}
}

// IsNew reports whether the profile has never been persisted.
func (p *RiskProfile) IsNew() bool {
	return p.Version == 0
}

// HasTrustedDevice reports whether the fingerprint is trusted.
func (p *RiskProfile) HasTrustedDevice(fingerprint string) bool {
	for _, d := range p.TrustedDevices {
		if d.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// TrustDevice adds or refreshes a trusted device, evicting the least recently seen beyond max.
func (p *RiskProfile) TrustDevice(fingerprint string, at time.Time, max int) {
	for i := range p.TrustedDevices {
		if p.TrustedDevices[i].Fingerprint == fingerprint {
			p.TrustedDevices[i].LastSeen = at
			return
		}
	}
	p.TrustedDevices = append(p.TrustedDevices, TrustedDevice{Fingerprint: fingerprint, FirstSeen: at, LastSeen: at})
	if max > 0 && len(p.TrustedDevices) > max {
		sort.SliceStable(p.TrustedDevices, func(i, j int) bool {
			return p.TrustedDevices[i].LastSeen.After(p.TrustedDevices[j].LastSeen)
		})
		p.TrustedDevices = p.TrustedDevices[:max]
	}
}

// UntrustDevice removes a fingerprint from the trusted devices. It reports whether it was present.
func (p *RiskProfile) UntrustDevice(fingerprint string) bool {
	for i, d := range p.TrustedDevices {
		if d.Fingerprint == fingerprint {
			p.TrustedDevices = append(p.TrustedDevices[:i], p.TrustedDevices[i+1:]...)
			return true
		}
	}
	return false
}

// TrustLocation appends a trusted location, evicting the least recently seen beyond max.
// Callers refresh an existing nearby entry through TouchLocation instead.
func (p *RiskProfile) TrustLocation(loc TrustedLocation, max int) {
	p.TrustedLocations = append(p.TrustedLocations, loc)
	if max > 0 && len(p.TrustedLocations) > max {
		sort.SliceStable(p.TrustedLocations, func(i, j int) bool {
			return p.TrustedLocations[i].LastSeen.After(p.TrustedLocations[j].LastSeen)
		})
		p.TrustedLocations = p.TrustedLocations[:max]
	}
}

// TouchLocation refreshes LastSeen of the trusted location at index i.
func (p *RiskProfile) TouchLocation(i int, at time.Time) {
	if i >= 0 && i < len(p.TrustedLocations) {
		p.TrustedLocations[i].LastSeen = at
	}
}

// RemoveLocation drops the trusted location at index i.
func (p *RiskProfile) RemoveLocation(i int) {
	if i >= 0 && i < len(p.TrustedLocations) {
		p.TrustedLocations = append(p.TrustedLocations[:i], p.TrustedLocations[i+1:]...)
	}
}

// TotalHourSamples returns the number of assessments recorded in the hour histogram.
func (p *RiskProfile) TotalHourSamples() int {
	total := 0
	for _, c := range p.HourHistogram {
		total += c
	}
	return total
}

// Clone returns a deep copy, so an in-flight update never mutates a shared profile.
func (p *RiskProfile) Clone() *RiskProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.TrustedDevices = append([]TrustedDevice(nil), p.TrustedDevices...)
	c.TrustedLocations = append([]TrustedLocation(nil), p.TrustedLocations...)
	if p.LastLocation != nil {
		loc := *p.LastLocation
		c.LastLocation = &loc
	}
	if p.LastAssessedAt != nil {
		t := *p.LastAssessedAt
		c.LastAssessedAt = &t
	}
	c.OperationCounts = make(map[string]int, len(p.OperationCounts))
	for k, v := range p.OperationCounts {
		c.OperationCounts[k] = v
	}
	return &c
}

// ================================================================================
// Risk Assessment
// ================================================================================

// RiskAssessment is the immutable record of one evaluation.
type RiskAssessment struct {
	ID                 string               `json:"assessment_id"`
	UserID             string               `json:"user_id"`
	OperationType      string               `json:"operation_type"`
	Score              float64              `json:"score"`
	Level              RiskLevel            `json:"level"`
	RecommendedActions Actions              `json:"recommended_actions"`
	Factors            []FactorContribution `json:"factors"`
	Degraded           bool                 `json:"degraded"`
	IPAddress          string               `json:"ip_address,omitempty"`
	DeviceFingerprint  string               `json:"device_fingerprint,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// AssessmentResult is returned to the caller of AssessRisk.
type AssessmentResult struct {
	AssessmentID        string               `json:"assessment_id"`
	Score               float64              `json:"score"`
	Level               RiskLevel            `json:"level"`
	RecommendedActions  Actions              `json:"recommended_actions"`
	ContributingFactors []FactorContribution `json:"contributing_factors"`
	Degraded            bool                 `json:"degraded"`
}

// ToResult projects a record onto the caller-facing result.
func (a *RiskAssessment) ToResult() *AssessmentResult {
	return &AssessmentResult{
		AssessmentID:        a.ID,
		Score:               a.Score,
		Level:               a.Level,
		RecommendedActions:  a.RecommendedActions,
		ContributingFactors: a.Factors,
		Degraded:            a.Degraded,
	}
}

// ================================================================================
// Feedback
// ================================================================================

// FeedbackVerdict is an analyst or downstream system's judgement of an assessment.
type FeedbackVerdict string

const (
	VerdictConfirmedFraud FeedbackVerdict = "confirmed_fraud"
	VerdictFalsePositive  FeedbackVerdict = "false_positive"
)

// RiskFeedback reports the real outcome of an assessed operation.
type RiskFeedback struct {
	UserID       string          `json:"user_id" validate:"required,max=128"`
	AssessmentID string          `json:"assessment_id" validate:"required,uuid"`
	Verdict      FeedbackVerdict `json:"verdict" validate:"required,oneof=confirmed_fraud false_positive"`
	Source       string          `json:"source,omitempty" validate:"max=128"`
}
