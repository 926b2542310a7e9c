package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/types"
)

func TestIssueDirectoryGetUnknown(t *testing.T) {
	d := NewIssueDirectory()
	_, err := d.Get("nope")
	assert.True(t, errors.Is(err, ErrUnknownIssue))
}

func TestIssueDirectoryListFiltersAndExcludesClaimed(t *testing.T) {
	d := NewIssueDirectory()
	require.NoError(t, d.Register(types.IssueRef{ID: "i1", Priority: types.PriorityHigh, Labels: []string{"go", "backend"}}))
	require.NoError(t, d.Register(types.IssueRef{ID: "i2", Priority: types.PriorityLow, Labels: []string{"go"}}))
	require.NoError(t, d.Register(types.IssueRef{ID: "i3", Priority: types.PriorityHigh, Repository: "other"}))

	// Claimed issues disappear from the available list.
	issues, total := d.List(types.IssueFilter{}, map[string]bool{"i2": true})
	assert.Equal(t, 2, total)
	for _, ref := range issues {
		assert.NotEqual(t, "i2", ref.ID)
	}

	// Label filter is AND semantics.
	issues, total = d.List(types.IssueFilter{Labels: []string{"go", "backend"}}, nil)
	require.Equal(t, 1, total)
	assert.Equal(t, "i1", issues[0].ID)

	// Priority ordering: high before low.
	issues, _ = d.List(types.IssueFilter{}, nil)
	require.Len(t, issues, 3)
	assert.Equal(t, types.PriorityHigh, issues[0].Priority)
}

func TestClaimantRegistryResolveDefaults(t *testing.T) {
	r := NewClaimantRegistry(5)

	// Unregistered claimant gets the default cap.
	c := r.Resolve("ghost", types.KindAgent)
	assert.Equal(t, 5, c.MaxConcurrentClaims)
	assert.Equal(t, types.KindAgent, c.Kind)

	require.NoError(t, r.Register(types.Claimant{
		ID: "agent-1", Kind: types.KindAgent, AgentType: "coder",
		MaxConcurrentClaims: 2, Capabilities: []string{"go"},
	}))
	c = r.Resolve("agent-1", types.KindAgent)
	assert.Equal(t, 2, c.MaxConcurrentClaims)
	assert.Equal(t, "coder", c.AgentType)

	// Registered without a cap falls back to the default.
	require.NoError(t, r.Register(types.Claimant{ID: "agent-2", Kind: types.KindHuman}))
	c = r.Resolve("agent-2", types.KindHuman)
	assert.Equal(t, 5, c.MaxConcurrentClaims)

	r.SetDefaultMax(7)
	assert.Equal(t, 7, r.Resolve("ghost", types.KindAgent).MaxConcurrentClaims)
}
