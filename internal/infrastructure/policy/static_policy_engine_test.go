package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/pkg/logger"
)

func TestBuiltinRules(t *testing.T) {
	e, err := NewStaticPolicyEngine("", logger.NewNoopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, models.Actions{models.ActionAllow}, e.Recommend(ctx, "login", models.RiskLevelLow))
	assert.Equal(t, models.Actions{models.ActionAllow, models.ActionMonitor}, e.Recommend(ctx, "login", models.RiskLevelMedium))
	assert.Equal(t, models.Actions{models.ActionRequireMFA, models.ActionNotifySecurity}, e.Recommend(ctx, "login", models.RiskLevelHigh))
	assert.Equal(t, models.Actions{models.ActionDeny, models.ActionNotifySecurity}, e.Recommend(ctx, "login", models.RiskLevelCritical))
	assert.Equal(t, models.Actions{models.ActionDeny, models.ActionNotifySecurity}, e.Recommend(ctx, "login", models.RiskLevel("bogus")))
}

func TestNormalize(t *testing.T) {
	got := Normalize(models.Actions{models.ActionMonitor, models.ActionAllow, models.ActionMonitor, models.ActionDeny})
	assert.Equal(t, models.Actions{models.ActionMonitor, models.ActionDeny}, got)
	assert.Empty(t, Normalize(nil))
}

func TestCompile_PrecedenceAndMonotonicity(t *testing.T) {
	doc, err := ParseDocument([]byte(`
default:
  medium: [require_captcha, require_captcha]
operations:
  wire_transfer:
    low: [monitor]
    medium: [require_mfa]
  view_balance:
    high: [allow]
    critical: []
`))
	require.NoError(t, err)
	rs := Compile(doc)

	// Defaults from the file replace only the levels they name.
	assert.Equal(t, models.Actions{models.ActionRequireCaptcha}, rs.Recommend("login", models.RiskLevelMedium))
	assert.Equal(t, BuiltinDefaults[models.RiskLevelHigh], rs.Recommend("login", models.RiskLevelHigh))

	// Operation entries replace the default entry for the same level.
	assert.Equal(t, models.Actions{models.ActionMonitor}, rs.Recommend("wire_transfer", models.RiskLevelLow))
	assert.Equal(t, models.Actions{models.ActionRequireMFA}, rs.Recommend("wire_transfer", models.RiskLevelMedium))
	assert.Equal(t, BuiltinDefaults[models.RiskLevelCritical], rs.Recommend("wire_transfer", models.RiskLevelCritical))

	// A weaker high inherits medium; an empty critical inherits high.
	assert.Equal(t, models.Actions{models.ActionRequireCaptcha}, rs.Recommend("view_balance", models.RiskLevelHigh))
	assert.Equal(t, models.Actions{models.ActionRequireCaptcha}, rs.Recommend("view_balance", models.RiskLevelCritical))

	assert.Equal(t, []string{"view_balance", "wire_transfer"}, rs.OperationTypes())

	for _, op := range append(rs.OperationTypes(), "other") {
		prev := -1
		for _, l := range models.RiskLevels {
			acts := rs.Recommend(op, l)
			require.NotEmpty(t, acts)
			assert.GreaterOrEqual(t, acts.Severity(), prev, "%s/%s", op, l)
			prev = acts.Severity()
		}
	}
}

func TestRecommendReturnsCopy(t *testing.T) {
	rs := Compile(nil)
	acts := rs.Recommend("login", models.RiskLevelLow)
	acts[0] = models.ActionDeny
	assert.Equal(t, models.ActionAllow, rs.Recommend("login", models.RiskLevelLow)[0])
}

func TestParseDocument_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown level":  "default:\n  severe: [deny]\n",
		"unknown action": "default:\n  high: [shrug]\n",
		"unknown key":    "defaults:\n  high: [deny]\n",
		"bad yaml":       "default: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(body))
			assert.Error(t, err)
		})
	}
	_, err := ParseDocument(nil)
	assert.NoError(t, err)
}

func TestReloadKeepsPreviousRulesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  low: [monitor]\n"), 0o600))

	e, err := NewStaticPolicyEngine(path, logger.NewNoopLogger())
	require.NoError(t, err)
	ctx := context.Background()
	assert.Equal(t, models.Actions{models.ActionMonitor}, e.Recommend(ctx, "login", models.RiskLevelLow))

	require.NoError(t, os.WriteFile(path, []byte("default:\n  low: [nonsense]\n"), 0o600))
	assert.Error(t, e.Reload(ctx))
	assert.Equal(t, models.Actions{models.ActionMonitor}, e.Recommend(ctx, "login", models.RiskLevelLow))

	require.NoError(t, os.WriteFile(path, []byte("default:\n  low: [allow, monitor]\n"), 0o600))
	require.NoError(t, e.Reload(ctx))
	assert.Equal(t, models.Actions{models.ActionAllow, models.ActionMonitor}, e.Recommend(ctx, "login", models.RiskLevelLow))

	_, err = NewStaticPolicyEngine(filepath.Join(t.TempDir(), "missing.yaml"), logger.NewNoopLogger())
	assert.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  low: [allow]\n"), 0o600))

	e, err := NewStaticPolicyEngine(path, logger.NewNoopLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("default:\n  low: [monitor]\n"), 0o600))
	assert.Eventually(t, func() bool {
		acts := e.Recommend(ctx, "login", models.RiskLevelLow)
		return len(acts) == 1 && acts[0] == models.ActionMonitor
	}, 5*time.Second, 20*time.Millisecond)
}
