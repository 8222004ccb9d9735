package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/application/dto"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/infrastructure/persistence/redis"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestScoreCommand(t *testing.T) {
	out, err := execute(t, "score", "-o", "json", "--factor", "ip_reputation_score=0.5")
	require.NoError(t, err)

	var report dto.ScoreReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 50.0, report.Score)
	assert.Equal(t, models.RiskLevelMedium, report.Level)
	assert.Equal(t, models.Actions{models.ActionAllow, models.ActionMonitor}, report.RecommendedActions)
	require.Len(t, report.ContributingFactors, 1)

	out, err = execute(t, "score", "-o", "json", "-f", "impossible_travel=1", "-f", "device_novelty_score=0")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 62.5, report.Score)
	assert.Equal(t, models.RiskLevelHigh, report.Level)
	assert.Equal(t, models.Actions{models.ActionRequireMFA, models.ActionNotifySecurity}, report.RecommendedActions)
}

func TestScoreCommand_WithPolicy(t *testing.T) {
	path := writeFile(t, "policy.yaml", "operations:\n  wire_transfer:\n    medium: [require_mfa]\n")
	out, err := execute(t, "score", "-o", "json", "--policy", path, "--operation", "wire_transfer",
		"--factor", "ip_reputation_score=0.5")
	require.NoError(t, err)

	var report dto.ScoreReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, models.Actions{models.ActionRequireMFA}, report.RecommendedActions)
}

func TestScoreCommand_RejectsBadFactors(t *testing.T) {
	for name, arg := range map[string]string{
		"unknown":      "made_up=0.1",
		"out of range": "ip_reputation_score=1.5",
		"not a number": "ip_reputation_score=high",
		"no value":     "ip_reputation_score",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, "score", "--factor", arg)
			assert.Error(t, err)
		})
	}

	_, err := execute(t, "score", "-f", "impossible_travel=1", "-f", "impossible_travel=0")
	assert.Error(t, err)
}

func TestPolicyCommands(t *testing.T) {
	valid := writeFile(t, "policy.yaml", "default:\n  high: [require_mfa]\noperations:\n  login:\n    critical: [deny]\n")
	out, err := execute(t, "policy", "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "policy OK: 1 operation types")

	invalid := writeFile(t, "bad.yaml", "default:\n  high: [launch_missiles]\n")
	_, err = execute(t, "policy", "validate", invalid)
	assert.Error(t, err)

	out, err = execute(t, "policy", "show", "-o", "json", valid)
	require.NoError(t, err)
	var table map[string]map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &table))
	assert.Equal(t, []string{"require_mfa"}, table["*"]["high"])
	assert.Equal(t, []string{"deny"}, table["login"]["critical"])
	assert.Equal(t, []string{"allow"}, table["login"]["low"])
}

func TestBlocklistCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orig := blocklistFactory
	blocklistFactory = func(context.Context, *options) (*redis.IPBlocklist, func(), error) {
		bl, err := redis.NewIPBlocklist(client, nil)
		return bl, func() {}, err
	}
	t.Cleanup(func() { blocklistFactory = orig })

	out, err := execute(t, "blocklist", "add", "198.51.100.7", "203.0.113.0/24")
	require.NoError(t, err)
	assert.Contains(t, out, "blocked 203.0.113.0/24")

	_, err = execute(t, "blocklist", "add", "not-an-ip")
	assert.Error(t, err)

	out, err = execute(t, "blocklist", "list", "-o", "json")
	require.NoError(t, err)
	var entries []string
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.ElementsMatch(t, []string{"198.51.100.7/32", "203.0.113.0/24"}, entries)

	_, err = execute(t, "blocklist", "remove", "198.51.100.7")
	require.NoError(t, err)
	out, err = execute(t, "blocklist", "list", "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Equal(t, []string{"203.0.113.0/24"}, entries)
}

func TestTokenIssueRequiresSecret(t *testing.T) {
	t.Setenv("RISKGUARD_AUTH_JWT_SECRET", "")
	_, err := execute(t, "token", "issue", "checkout-service")
	assert.Error(t, err)
}
