package policy

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// Document is the on-disk policy format.
// Document 是策略文件的磁盘格式。
//
//	default:
//	  high: [require_mfa, notify_security]
//	operations:
//	  wire_transfer:
//	    medium: [require_mfa]
type Document struct {
	// Default maps a level to actions for every operation type.
	Default map[string][]string `yaml:"default"`
	// Operations overrides individual levels for one operation type.
	Operations map[string]map[string][]string `yaml:"operations"`
}

// BuiltinDefaults are used for every level the policy file leaves out.
var BuiltinDefaults = map[models.RiskLevel]models.Actions{
	models.RiskLevelLow:      {models.ActionAllow},
	models.RiskLevelMedium:   {models.ActionAllow, models.ActionMonitor},
	models.RiskLevelHigh:     {models.ActionRequireMFA, models.ActionNotifySecurity},
	models.RiskLevelCritical: {models.ActionDeny, models.ActionNotifySecurity},
}

// levelActions holds the effective actions per level, indexed by RiskLevel.Rank().
type levelActions [4]models.Actions

// RuleSet is a compiled, normalized policy. It is immutable once built.
type RuleSet struct {
	defaults   levelActions
	operations map[string]levelActions
}

// ParseDocument decodes and validates a policy document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.ErrInvalidConfig("policy file is not valid YAML").WithCause(err)
	}
	if err := validateLevels("default", doc.Default); err != nil {
		return nil, err
	}
	for op, levels := range doc.Operations {
		if op == "" {
			return nil, errors.ErrInvalidConfig("policy operation type must not be empty")
		}
		if err := validateLevels("operations."+op, levels); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func validateLevels(scope string, levels map[string][]string) error {
	for name, actions := range levels {
		if _, err := models.ParseRiskLevel(name); err != nil {
			return errors.ErrInvalidConfig(fmt.Sprintf("%s: unknown level %q", scope, name))
		}
		for _, a := range actions {
			if !models.Action(a).Valid() {
				return errors.ErrInvalidConfig(fmt.Sprintf("%s.%s: unknown action %q", scope, name, a))
			}
		}
	}
	return nil
}

// Compile turns a document into a RuleSet. A nil document yields the built-in rules.
func Compile(doc *Document) *RuleSet {
	if doc == nil {
		doc = &Document{}
	}
	base := make(map[models.RiskLevel]models.Actions, len(models.RiskLevels))
	for _, l := range models.RiskLevels {
		base[l] = BuiltinDefaults[l]
	}
	for name, actions := range doc.Default {
		l, _ := models.ParseRiskLevel(name)
		base[l] = toActions(actions)
	}

	rs := &RuleSet{
		defaults:   resolve(base, nil),
		operations: make(map[string]levelActions, len(doc.Operations)),
	}
	for op, levels := range doc.Operations {
		overrides := make(map[models.RiskLevel]models.Actions, len(levels))
		for name, actions := range levels {
			l, _ := models.ParseRiskLevel(name)
			overrides[l] = toActions(actions)
		}
		rs.operations[op] = resolve(base, overrides)
	}
	return rs
}

// resolve applies precedence, normalization and monotonic escalation. An override for a
// level replaces the default entry for that level only.
func resolve(base, overrides map[models.RiskLevel]models.Actions) levelActions {
	var out levelActions
	for i, l := range models.RiskLevels {
		list, ok := overrides[l]
		if !ok {
			list = base[l]
		}
		list = Normalize(list)
		if len(list) == 0 {
			if i == 0 {
				list = models.Actions{models.ActionAllow}
			} else {
				list = out[i-1]
			}
		}
		if i > 0 && list.Severity() < out[i-1].Severity() {
			list = out[i-1]
		}
		out[i] = list
	}
	return out
}

// Normalize drops duplicates keeping the first occurrence, and drops allow when deny is present.
func Normalize(actions models.Actions) models.Actions {
	deny := actions.Contains(models.ActionDeny)
	seen := make(map[models.Action]bool, len(actions))
	out := make(models.Actions, 0, len(actions))
	for _, a := range actions {
		if seen[a] || (deny && a == models.ActionAllow) {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func toActions(in []string) models.Actions {
	out := make(models.Actions, len(in))
	for i, a := range in {
		out[i] = models.Action(a)
	}
	return out
}

// Recommend returns a copy of the effective actions. Unknown levels are treated as critical.
func (rs *RuleSet) Recommend(operationType string, level models.RiskLevel) models.Actions {
	rules, ok := rs.operations[operationType]
	if !ok {
		rules = rs.defaults
	}
	idx := level.Rank()
	if idx < 0 {
		idx = len(rules) - 1
	}
	return append(models.Actions(nil), rules[idx]...)
}

// OperationTypes lists operation types with their own rules, sorted.
func (rs *RuleSet) OperationTypes() []string {
	ops := make([]string, 0, len(rs.operations))
	for op := range rs.operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Table returns the effective actions per level for operationType ("" for the defaults).
func (rs *RuleSet) Table(operationType string) map[models.RiskLevel]models.Actions {
	out := make(map[models.RiskLevel]models.Actions, len(models.RiskLevels))
	for _, l := range models.RiskLevels {
		out[l] = rs.Recommend(operationType, l)
	}
	return out
}

// StaticPolicyEngine implements service.PolicyEngine from a YAML policy file.
// The compiled rules are swapped atomically on reload, so Recommend never blocks.
// StaticPolicyEngine 基于 YAML 策略文件实现 service.PolicyEngine，重新加载时原子替换规则。
type StaticPolicyEngine struct {
	path   string
	rules  atomic.Pointer[RuleSet]
	logger logger.Logger
}

var _ service.PolicyEngine = (*StaticPolicyEngine)(nil)

// NewStaticPolicyEngine loads the policy at path. An empty path uses the built-in rules.
// NewStaticPolicyEngine 从指定路径加载策略；路径为空时使用内置规则。
func NewStaticPolicyEngine(path string, log logger.Logger) (*StaticPolicyEngine, error) {
	e := &StaticPolicyEngine{path: path, logger: log.WithComponent("PolicyEngine")}
	if path == "" {
		e.rules.Store(Compile(nil))
		return e, nil
	}
	rs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	e.rules.Store(rs)
	return e, nil
}

// LoadFile reads, validates and compiles a policy file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrInvalidConfig(fmt.Sprintf("failed to read policy file %s", path)).WithCause(err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return Compile(doc), nil
}

// Recommend implements service.PolicyEngine.
func (e *StaticPolicyEngine) Recommend(_ context.Context, operationType string, level models.RiskLevel) models.Actions {
	return e.rules.Load().Recommend(operationType, level)
}

// Rules returns the active rule set.
func (e *StaticPolicyEngine) Rules() *RuleSet {
	return e.rules.Load()
}

// Reload re-reads the policy file. On failure the previous rules stay active.
func (e *StaticPolicyEngine) Reload(ctx context.Context) error {
	if e.path == "" {
		return nil
	}
	rs, err := LoadFile(e.path)
	if err != nil {
		e.logger.Error(ctx, "Policy reload rejected, keeping previous rules", err, logger.String("path", e.path))
		return err
	}
	e.rules.Store(rs)
	e.logger.Info(ctx, "Policy reloaded", logger.String("path", e.path), logger.Strings("operation_types", rs.OperationTypes()))
	return nil
}
