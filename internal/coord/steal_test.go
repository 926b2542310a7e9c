package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/clock"
	"github.com/swarmhq/claimd/internal/eventlog"
	"github.com/swarmhq/claimd/internal/types"
)

func TestMarkStealableRespectsGrace(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityMedium)
	mustClaim(t, c, "i-1", "a-1")

	clk.Advance(1 * time.Minute)
	_, err := c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	assert.True(t, errors.Is(err, ErrInGrace))

	clk.Advance(10 * time.Minute) // t=11m, grace is 10m
	claim, err := c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStealable, claim.Status)
	require.NotNil(t, claim.Stealable)
	assert.Equal(t, types.StealReasonManual, claim.Stealable.Reason)
	assert.Equal(t, "a-1", claim.Stealable.OriginalClaimant)

	_, err = c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	assert.True(t, errors.Is(err, ErrAlreadyStealable))
}

func TestStealTransfersOwnership(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityHigh)
	registerAgent(t, c, "a-1", "coder", 5)
	registerAgent(t, c, "a-2", "debugger", 5)
	old := mustClaim(t, c, "i-1", "a-1")
	_, err := c.SetProgress(ctx, "i-1", "a-1", 30)
	require.NoError(t, err)

	// Not marked yet.
	_, err = c.Steal(ctx, "i-1", "a-2", types.KindAgent, "debugger", "")
	assert.True(t, errors.Is(err, ErrNotStealable))

	clk.Advance(11 * time.Minute)
	_, err = c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	require.NoError(t, err)

	result, err := c.Steal(ctx, "i-1", "a-2", types.KindAgent, "debugger", "stale work")
	require.NoError(t, err)
	assert.Equal(t, "a-1", result.PreviousClaimant)
	assert.Equal(t, clk.Now().Add(c.Config().ContestWindow()), result.ContestWindowEndsAt)

	fresh := result.Claim
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, "a-2", fresh.Claimant.ID)
	assert.Equal(t, types.StatusActive, fresh.Status)
	assert.Equal(t, 30, fresh.Progress, "progress carries forward at steal time")
	assert.Equal(t, types.PriorityHigh, fresh.Priority, "priority is preserved")

	stolen, err := c.GetClaim(old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStolen, stolen.Status)

	// Both claim streams replay cleanly after the transfer.
	replayedOld, err := eventlog.Replay(c.Log().Stream(old.ID, 0))
	require.NoError(t, err)
	assert.Equal(t, stolen, replayedOld)

	var sawStolen bool
	for _, ev := range c.Log().ByIssue("i-1") {
		if ev.Type == types.EventStealIssueStolen {
			sawStolen = true
			assert.Equal(t, "i-1", ev.AggregateID, "transfer aggregates on the issue")
		}
	}
	assert.True(t, sawStolen)
}

func TestStealCrossTypeRules(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityMedium)
	registerAgent(t, c, "a-1", "coder", 5)
	mustClaim(t, c, "i-1", "a-1")
	clk.Advance(11 * time.Minute)
	_, err := c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	require.NoError(t, err)

	// coder<->reviewer has no rule; coder<->debugger does.
	_, err = c.Steal(ctx, "i-1", "a-2", types.KindAgent, "reviewer", "")
	assert.True(t, errors.Is(err, ErrCrossTypeNotAllowed))

	_, err = c.Steal(ctx, "i-1", "a-2", types.KindAgent, "debugger", "")
	assert.NoError(t, err)
}

func TestStealProgressProtection(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityMedium)
	mustClaim(t, c, "i-1", "a-1")
	_, err := c.SetProgress(ctx, "i-1", "a-1", 80)
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	_, err = c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	require.NoError(t, err)

	_, err = c.Steal(ctx, "i-1", "a-2", types.KindAgent, "", "")
	assert.True(t, errors.Is(err, ErrProtectedByProgress))
}

func TestStealerAtCapIsRejected(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityMedium)
	registerIssue(t, c, "i-2", types.PriorityMedium)
	registerAgent(t, c, "a-2", "", 1)
	mustClaim(t, c, "i-1", "a-1")
	mustClaim(t, c, "i-2", "a-2")

	clk.Advance(11 * time.Minute)
	_, err := c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	require.NoError(t, err)

	_, err = c.Steal(ctx, "i-1", "a-2", types.KindAgent, "", "")
	assert.True(t, errors.Is(err, ErrStealerOverloaded))
}

func stealFixture(t *testing.T, c *Coordinator, clk *clock.Manual) *StealResult {
	t.Helper()
	ctx := context.Background()
	registerIssue(t, c, "i-1", types.PriorityMedium)
	registerAgent(t, c, "a-1", "coder", 5)
	registerAgent(t, c, "a-2", "debugger", 5)
	mustClaim(t, c, "i-1", "a-1")
	_, err := c.SetProgress(ctx, "i-1", "a-1", 20)
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)
	_, err = c.MarkStealable(ctx, "i-1", "a-1", types.StealReasonManual)
	require.NoError(t, err)
	result, err := c.Steal(ctx, "i-1", "a-2", types.KindAgent, "debugger", "")
	require.NoError(t, err)
	return result
}

func TestContestEligibility(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	stealFixture(t, c, clk)

	clk.Advance(2 * time.Minute)
	_, err := c.Contest(ctx, "i-1", "a-3", "I want it")
	assert.True(t, errors.Is(err, ErrNotEligible), "only the previous claimant may contest")

	_, err = c.Contest(ctx, "i-9", "a-1", "")
	assert.True(t, errors.Is(err, ErrNoActiveSteal))

	contest, err := c.Contest(ctx, "i-1", "a-1", "actively working")
	require.NoError(t, err)
	assert.Equal(t, "a-2", contest.Defender)
	assert.Equal(t, "a-1", contest.Challenger)

	_, err = c.Contest(ctx, "i-1", "a-1", "again")
	assert.True(t, errors.Is(err, ErrContestPending))
}

func TestContestWindowCloses(t *testing.T) {
	c, clk := newTestCoord(t)
	stealFixture(t, c, clk)

	clk.Advance(6 * time.Minute) // window is 5m
	_, err := c.Contest(context.Background(), "i-1", "a-1", "too late")
	assert.True(t, errors.Is(err, ErrWindowClosed))
}

func TestContestReversalReinstatesChallenger(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	result := stealFixture(t, c, clk)

	clk.Advance(2 * time.Minute)
	contest, err := c.Contest(ctx, "i-1", "a-1", "actively working")
	require.NoError(t, err)

	claim, err := c.ResolveContest(ctx, contest.ID, types.ResolutionChallenger, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, "a-1", claim.Claimant.ID, "challenger gets a fresh claim")
	assert.NotEqual(t, result.Claim.ID, claim.ID)
	assert.Equal(t, 20, claim.Progress)

	defender, err := c.GetClaim(result.Claim.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReleased, defender.Status)
	require.NotNil(t, defender.Contest)
	require.NotNil(t, defender.Contest.Resolution)
	assert.Equal(t, types.ResolutionChallenger, *defender.Contest.Resolution)
}

func TestContestAutoResolvesForDefender(t *testing.T) {
	c, clk := newTestCoord(t)
	ctx := context.Background()
	result := stealFixture(t, c, clk)

	clk.Advance(2 * time.Minute)
	_, err := c.Contest(ctx, "i-1", "a-1", "actively working")
	require.NoError(t, err)

	clk.Advance(4 * time.Minute) // past contest.EndsAt
	stats := c.Sweep()
	assert.Equal(t, 1, stats.ContestsEnded)

	holder, ok := c.ActiveClaim("i-1")
	require.True(t, ok)
	assert.Equal(t, result.Claim.ID, holder.ID, "the steal stands")
	require.NotNil(t, holder.Contest.Resolution)
	assert.Equal(t, types.ResolutionDefender, *holder.Contest.Resolution)
	assert.Equal(t, "system", holder.Contest.ResolvedBy)
}
