package coord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/config"
	"github.com/swarmhq/claimd/internal/types"
)

// overloadFixture seeds a-1 with six claims against a cap of five and a-2
// with one claim: a-1 at 120%, a-2 at 20%, spread 100 points.
func overloadFixture(t *testing.T, c *Coordinator) {
	t.Helper()
	registerAgent(t, c, "a-1", "coder", 10)
	registerAgent(t, c, "a-2", "coder", 5)
	for i := 1; i <= 7; i++ {
		registerIssue(t, c, fmt.Sprintf("i-%d", i), types.PriorityMedium)
	}
	for i := 1; i <= 6; i++ {
		mustClaim(t, c, fmt.Sprintf("i-%d", i), "a-1")
	}
	mustClaim(t, c, "i-7", "a-2")
	// Drop a-1's cap to five now that the claims exist.
	registerAgent(t, c, "a-1", "coder", 5)
}

func TestRebalanceDryRunLeavesStateUntouched(t *testing.T) {
	c, _ := newTestCoord(t)
	overloadFixture(t, c)
	eventsBefore := len(c.Log().All())

	result, err := c.Rebalance(context.Background(), "", true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.False(t, result.Applied)
	require.NotEmpty(t, result.Moves, "plan must move work off a-1")
	for _, move := range result.Moves {
		assert.Equal(t, "a-1", move.From)
		assert.Equal(t, "a-2", move.To)
		assert.False(t, move.Applied)
	}

	assert.Equal(t, eventsBefore, len(c.Log().All()), "dry run appends nothing")
	claims, _ := c.ListMine(types.ClaimFilter{ClaimantID: "a-1"})
	assert.Len(t, claims, 6, "dry run moves nothing")
}

func TestRebalanceAppliesMoves(t *testing.T) {
	c, _ := newTestCoord(t)
	overloadFixture(t, c)

	result, err := c.Rebalance(context.Background(), config.StrategyLeastLoaded, false)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	require.NotEmpty(t, result.Moves)

	moved := 0
	for _, move := range result.Moves {
		if !move.Applied {
			continue
		}
		moved++
		fresh, err := c.GetClaim(move.NewClaimID)
		require.NoError(t, err)
		assert.Equal(t, "a-2", fresh.Claimant.ID)
		assert.Equal(t, move.Priority, fresh.Priority, "priority survives the move")

		old, err := c.GetClaim(move.ClaimID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusReleased, old.Status)
	}
	assert.Equal(t, c.Config().MaxMovesPerRebalance, moved)

	assert.Less(t, c.LoadInfo("a-1").LoadPercentage, 90.0, "a-1 drops out of overload")

	rebalanced := c.Log().ByType(types.EventSwarmRebalanced, time.Time{}, time.Time{})
	require.Len(t, rebalanced, 1)
	payload, ok := rebalanced[0].Payload.(types.RebalancedPayload)
	require.True(t, ok)
	assert.Equal(t, config.StrategyLeastLoaded, payload.Strategy)
	assert.NotEmpty(t, payload.Before)
	assert.NotEmpty(t, payload.After)
}

func TestRebalanceCooldown(t *testing.T) {
	c, _ := newTestCoord(t)
	overloadFixture(t, c)
	ctx := context.Background()

	first, err := c.Rebalance(ctx, "", false)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := c.Rebalance(ctx, "", false)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, "cooldown", second.Reason)

	// Dry runs are exempt from the cooldown.
	plan, err := c.Rebalance(ctx, "", true)
	require.NoError(t, err)
	assert.NotEqual(t, "cooldown", plan.Reason)
}

func TestRebalanceNoOpWhenBalanced(t *testing.T) {
	c, _ := newTestCoord(t)
	registerIssue(t, c, "i-1", types.PriorityMedium)
	registerIssue(t, c, "i-2", types.PriorityMedium)
	mustClaim(t, c, "i-1", "a-1")
	mustClaim(t, c, "i-2", "a-2")

	result, err := c.Rebalance(context.Background(), "", false)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, "no claimant overloaded", result.Reason)
	assert.Empty(t, result.Moves)
}

func TestRebalanceRespectsCapabilities(t *testing.T) {
	c, _ := newTestCoord(t)
	registerAgent(t, c, "a-1", "coder", 10)
	registerAgent(t, c, "a-2", "coder", 5) // no capabilities
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("i-%d", i)
		require.NoError(t, c.Issues().Register(types.IssueRef{
			ID: id, Priority: types.PriorityMedium, Capabilities: []string{"rust"},
		}))
		mustClaim(t, c, id, "a-1")
	}
	registerAgent(t, c, "a-1", "coder", 5)

	result, err := c.Rebalance(context.Background(), "", true)
	require.NoError(t, err)
	assert.Empty(t, result.Moves, "a-2 lacks the required capability")

	// A capable target picks the moves back up.
	require.NoError(t, c.Claimants().Register(types.Claimant{
		ID: "a-3", Kind: types.KindAgent, MaxConcurrentClaims: 5,
		Capabilities: []string{"rust", "go"},
	}))
	result, err = c.Rebalance(context.Background(), "", true)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Moves)
	for _, move := range result.Moves {
		assert.Equal(t, "a-3", move.To)
	}
}

func TestRebalanceInvalidStrategy(t *testing.T) {
	c, _ := newTestCoord(t)
	_, err := c.Rebalance(context.Background(), "chaotic", true)
	assert.Error(t, err)
}
