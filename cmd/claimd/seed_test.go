package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/clock"
	"github.com/swarmhq/claimd/internal/config"
	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestSeedFiles(t *testing.T) {
	core, err := coord.New(config.Default(), clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	t.Cleanup(core.Close)

	issues := writeFile(t, "issues.yaml", `
- id: i-1
  title: fix the flaky login test
  priority: high
  labels: [bug, auth]
- id: i-2
  title: rust port of the tokenizer
  priority: medium
  capabilities: [rust]
`)
	claimants := writeFile(t, "claimants.yaml", `
- id: a-1
  agent_type: coder
  max_claims: 3
- id: h-1
  kind: human
`)

	require.NoError(t, seed(core, issues, claimants))

	ref, err := core.Issues().Get("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.PriorityHigh, ref.Priority)
	assert.Equal(t, []string{"bug", "auth"}, ref.Labels)

	agent := core.Claimants().Resolve("a-1", types.KindAgent)
	assert.Equal(t, "coder", agent.AgentType)
	assert.Equal(t, 3, agent.MaxConcurrentClaims)

	human := core.Claimants().Resolve("h-1", types.KindAgent)
	assert.Equal(t, types.KindHuman, human.Kind)
}

func TestSeedBadPriorityFails(t *testing.T) {
	core, err := coord.New(config.Default(), clock.Wall{})
	require.NoError(t, err)
	t.Cleanup(core.Close)

	issues := writeFile(t, "issues.yaml", "- id: i-1\n  priority: urgent\n")
	assert.Error(t, seed(core, issues, ""))
}

func TestLoadConfigDefaultsAndFile(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	path := writeFile(t, "claimd.yaml", `
grace_period_minutes: 20
max_claims_per_agent: 8
contest_window_ms: 120000
`)
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.GracePeriodMinutes)
	assert.Equal(t, 8, cfg.MaxClaimsPerAgent)
	assert.EqualValues(t, 120000, cfg.ContestWindowMs)
	assert.Equal(t, config.Default().StaleThresholdMinutes, cfg.StaleThresholdMinutes, "unset keys keep defaults")
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeFile(t, "claimd.yaml", "overloaded_percent: 10\nunderloaded_percent: 50\n")
	_, err := loadConfig(path)
	assert.Error(t, err)
}
