package coord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/types"
)

func TestClaimExpiresAfterTTL(t *testing.T) {
	c, clk := newTestCoord(t)
	registerIssue(t, c, "i-1", types.PriorityMedium)
	claim, err := c.Claim(context.Background(), ClaimRequest{
		IssueID: "i-1", ClaimantID: "a-1", Kind: types.KindAgent, TTL: 60 * time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, claim.ExpiresAt)

	clk.Advance(59 * time.Second)
	assert.Zero(t, c.Sweep().Expired, "not due yet")

	clk.Advance(2 * time.Second)
	stats := c.Sweep()
	assert.Equal(t, 1, stats.Expired)

	_, total := c.ListMine(types.ClaimFilter{ClaimantID: "a-1"})
	assert.Zero(t, total, "expired claim is no longer live")

	var sawExpired, sawReleased bool
	for _, ev := range c.Log().ByIssue("i-1") {
		switch ev.Type {
		case types.EventClaimExpired:
			sawExpired = true
		case types.EventClaimReleased:
			sawReleased = true
		}
	}
	assert.True(t, sawExpired)
	assert.False(t, sawReleased, "expiration is not a release")

	expired, err := c.GetClaim(claim.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, expired.Status)
	assert.Zero(t, c.LoadInfo("a-1").ActiveClaims)
}

func TestDefaultExpirationFromConfig(t *testing.T) {
	c, _ := newTestCoord(t)
	_, err := c.UpdateConfig(map[string]any{"defaultExpirationMs": 30_000})
	require.NoError(t, err)
	registerIssue(t, c, "i-1", types.PriorityMedium)
	claim := mustClaim(t, c, "i-1", "a-1")
	require.NotNil(t, claim.ExpiresAt)
	assert.Equal(t, claim.ClaimedAt.Add(30*time.Second), *claim.ExpiresAt)
}

func TestSweepAutoMarksStaleClaims(t *testing.T) {
	c, clk := newTestCoord(t)
	registerIssue(t, c, "i-1", types.PriorityMedium)
	registerIssue(t, c, "i-2", types.PriorityMedium)
	mustClaim(t, c, "i-1", "a-1")
	mustClaim(t, c, "i-2", "a-2")

	// Keep a-2 fresh, let a-1 go stale past the 30m threshold.
	clk.Advance(20 * time.Minute)
	_, err := c.SetProgress(context.Background(), "i-2", "a-2", 10)
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)

	stats := c.Sweep()
	assert.Equal(t, 1, stats.AutoMarked)

	marked, ok := c.ActiveClaim("i-1")
	require.True(t, ok)
	assert.Equal(t, types.StatusStealable, marked.Status)
	require.NotNil(t, marked.Stealable)
	assert.Equal(t, types.StealReasonStale, marked.Stealable.Reason)

	fresh, ok := c.ActiveClaim("i-2")
	require.True(t, ok)
	assert.Equal(t, types.StatusActive, fresh.Status)
}

func TestSweepAutoMarksLongBlockedClaims(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityMedium)
	mustClaim(t, c, "i-1", "a-1")
	_, err := c.UpdateStatus(ctx, "i-1", "a-1", types.StatusBlocked, "waiting on upstream", nil)
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	assert.Zero(t, c.Sweep().AutoMarked, "under the 60m blocked threshold")

	clk.Advance(2 * time.Minute)
	stats := c.Sweep()
	assert.Equal(t, 1, stats.AutoMarked)

	marked, _ := c.ActiveClaim("i-1")
	assert.Equal(t, types.StealReasonBlocked, marked.Stealable.Reason)
}

func TestSweepMarksOverloadedClaimants(t *testing.T) {
	c, clk := newTestCoord(t)
	registerAgent(t, c, "a-1", "coder", 10)
	for _, spec := range []struct {
		id       string
		priority types.Priority
	}{
		{"i-1", types.PriorityCritical},
		{"i-2", types.PriorityHigh},
		{"i-3", types.PriorityHigh},
		{"i-4", types.PriorityMedium},
		{"i-5", types.PriorityMedium},
		{"i-6", types.PriorityLow},
	} {
		registerIssue(t, c, spec.id, spec.priority)
		mustClaim(t, c, spec.id, "a-1")
	}

	// Past grace, under the stale threshold: only the overload rule fires.
	clk.Advance(11 * time.Minute)
	stats := c.Sweep()
	assert.Equal(t, 1, stats.AutoMarked)

	marked, ok := c.ActiveClaim("i-6")
	require.True(t, ok)
	assert.Equal(t, types.StatusStealable, marked.Status, "lowest priority claim sheds first")
	assert.Equal(t, types.StealReasonOverloaded, marked.Stealable.Reason)
}

func TestSweepAutoReleasesInactiveClaims(t *testing.T) {
	c, clk := newTestCoord(t)
	_, err := c.UpdateConfig(map[string]any{"autoReleaseOnInactivityMs": float64(15 * 60 * 1000)})
	require.NoError(t, err)
	registerIssue(t, c, "i-1", types.PriorityMedium)
	mustClaim(t, c, "i-1", "a-1")

	clk.Advance(16 * time.Minute)
	stats := c.Sweep()
	assert.Equal(t, 1, stats.AutoReleased)

	_, ok := c.ActiveClaim("i-1")
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _ := newTestCoord(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
