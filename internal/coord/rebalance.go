package coord

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/swarmhq/claimd/internal/config"
	"github.com/swarmhq/claimd/internal/types"
)

// RebalanceResult reports one pass, planned or applied.
type RebalanceResult struct {
	Strategy string                      `json:"strategy"`
	DryRun   bool                        `json:"dry_run"`
	Applied  bool                        `json:"applied"`
	Reason   string                      `json:"reason,omitempty"` // set when the pass was a no-op
	Moves    []types.RebalanceMove       `json:"moves"`
	Before   map[string]types.LoadSample `json:"before"`
	After    map[string]types.LoadSample `json:"after,omitempty"`
}

// Rebalance runs one load-balancing pass. An empty strategy uses the
// configured default. With dryRun the plan is returned without touching the
// store or the log. Per-move failures (claims that changed under us) are
// recorded as skipped and do not abort the pass.
func (c *Coordinator) Rebalance(ctx context.Context, strategy string, dryRun bool) (*RebalanceResult, error) {
	cfg := c.Config()
	if strategy == "" {
		strategy = cfg.RebalanceStrategy
	}
	if !config.ValidStrategy(strategy) {
		return nil, fmt.Errorf("%w: invalid rebalance strategy %q", ErrValidation, strategy)
	}

	c.rebalanceMu.Lock()
	defer c.rebalanceMu.Unlock()

	now := c.clk.Now()
	before := c.loadSnapshot()
	result := &RebalanceResult{Strategy: strategy, DryRun: dryRun, Before: before}

	if !dryRun && !c.lastRebalance.IsZero() && now.Sub(c.lastRebalance) < cfg.RebalanceCooldown() {
		result.Reason = "cooldown"
		return result, nil
	}
	if reason, ok := c.rebalanceTriggered(before, cfg); !ok {
		result.Reason = reason
		return result, nil
	}

	plan := c.planMoves(strategy, before, cfg)
	if len(plan) == 0 {
		result.Reason = "no movable claims"
		return result, nil
	}
	result.Moves = plan
	if dryRun {
		return result, nil
	}

	// Apply in lexicographic issue order so concurrent passes cannot
	// deadlock on each other's locks.
	sort.Slice(result.Moves, func(i, j int) bool {
		return result.Moves[i].IssueID < result.Moves[j].IssueID
	})
	var publish []*types.Event
	for i := range result.Moves {
		events := c.applyMove(ctx, &result.Moves[i])
		publish = append(publish, events...)
	}

	result.Applied = true
	result.After = c.loadSnapshot()
	c.lastRebalance = now

	ev := c.newEvent(types.EventSwarmRebalanced, types.SwarmAggregateID, "", types.RebalancedPayload{
		Strategy:     strategy,
		Before:       result.Before,
		After:        result.After,
		Moves:        result.Moves,
		RebalancedAt: now,
	})
	if err := c.log.Append("", ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	publish = append(publish, ev)
	c.publish(publish...)
	return result, nil
}

// rebalanceTriggered checks the pass preconditions: someone overloaded and a
// wide enough load spread.
func (c *Coordinator) rebalanceTriggered(snap map[string]types.LoadSample, cfg config.Config) (string, bool) {
	if len(snap) < 2 {
		return "fewer than two claimants", false
	}
	overloaded := false
	minLoad, maxLoad := 101.0, -1.0
	for _, s := range snap {
		if s.Overloaded {
			overloaded = true
		}
		if s.LoadPercentage < minLoad {
			minLoad = s.LoadPercentage
		}
		if s.LoadPercentage > maxLoad {
			maxLoad = s.LoadPercentage
		}
	}
	if !overloaded {
		return "no claimant overloaded", false
	}
	if maxLoad-minLoad < float64(cfg.SpreadTriggerPoints) {
		return "load spread below trigger", false
	}
	return "", true
}

// loadSnapshot merges the load index with registered claimants so idle
// workers are visible as rebalance targets.
func (c *Coordinator) loadSnapshot() map[string]types.LoadSample {
	snap := c.loads.Snapshot()
	for _, claimant := range c.claimants.All() {
		if _, ok := snap[claimant.ID]; !ok {
			snap[claimant.ID] = c.loads.Sample(claimant.ID)
		}
	}
	return snap
}

// planMoves builds the move plan from overloaded claimants to underloaded
// targets. Planning reads a snapshot; applyMove revalidates under the lock.
func (c *Coordinator) planMoves(strategy string, snap map[string]types.LoadSample, cfg config.Config) []types.RebalanceMove {
	var sources, targets []string
	for id, s := range snap {
		if s.Overloaded {
			sources = append(sources, id)
		} else if s.Underloaded {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	// Busiest sources first, least-loaded targets first, ids as tie-break.
	sort.Slice(sources, func(i, j int) bool {
		a, b := snap[sources[i]], snap[sources[j]]
		if a.LoadPercentage != b.LoadPercentage {
			return a.LoadPercentage > b.LoadPercentage
		}
		return sources[i] < sources[j]
	})
	sort.Slice(targets, func(i, j int) bool {
		a, b := snap[targets[i]], snap[targets[j]]
		if a.LoadPercentage != b.LoadPercentage {
			return a.LoadPercentage < b.LoadPercentage
		}
		return targets[i] < targets[j]
	})

	headroom := make(map[string]int, len(targets))
	for _, id := range targets {
		s := snap[id]
		headroom[id] = s.MaxClaims - s.ActiveClaims
	}

	var plan []types.RebalanceMove
	for _, source := range sources {
		claims, _ := c.store.ListByClaimant(types.ClaimFilter{ClaimantID: source})
		candidates := movableClaims(claims)
		sortCandidates(candidates, cfg.MoveSelection)
		moved := 0
		for _, claim := range candidates {
			if moved >= cfg.MaxMovesPerRebalance {
				break
			}
			target := c.pickTarget(strategy, claim, targets, headroom, snap, cfg)
			if target == "" {
				continue
			}
			headroom[target]--
			moved++
			plan = append(plan, types.RebalanceMove{
				IssueID:  claim.IssueID,
				ClaimID:  claim.ID,
				From:     source,
				To:       target,
				Priority: claim.Priority,
				Progress: claim.Progress,
			})
		}
	}
	return plan
}

// movableClaims keeps only claims a rebalance may migrate: active or paused,
// uncontested, no pending handoff.
func movableClaims(claims []*types.Claim) []*types.Claim {
	var out []*types.Claim
	for _, claim := range claims {
		if claim.Status != types.StatusActive && claim.Status != types.StatusPaused {
			continue
		}
		if claim.Contest != nil && claim.Contest.Resolution == nil {
			continue
		}
		out = append(out, claim)
	}
	return out
}

// sortCandidates orders a source's claims by the configured move selection.
func sortCandidates(claims []*types.Claim, selection string) {
	sort.Slice(claims, func(i, j int) bool {
		a, b := claims[i], claims[j]
		switch selection {
		case config.MoveNewestFirst:
			if !a.ClaimedAt.Equal(b.ClaimedAt) {
				return a.ClaimedAt.After(b.ClaimedAt)
			}
		case config.MoveLowestPriority:
			if a.Priority.Rank() != b.Priority.Rank() {
				return a.Priority.Rank() > b.Priority.Rank()
			}
		case config.MoveLeastProgress:
			if a.Progress != b.Progress {
				return a.Progress < b.Progress
			}
		default: // oldest-first and capability-match
			if !a.ClaimedAt.Equal(b.ClaimedAt) {
				return a.ClaimedAt.Before(b.ClaimedAt)
			}
		}
		return a.ID < b.ID
	})
}

// pickTarget selects the destination claimant for one claim.
func (c *Coordinator) pickTarget(strategy string, claim *types.Claim, targets []string, headroom map[string]int, snap map[string]types.LoadSample, cfg config.Config) string {
	eligible := make([]string, 0, len(targets))
	for _, id := range targets {
		if headroom[id] <= 0 || id == claim.Claimant.ID {
			continue
		}
		if cfg.RespectCapabilities && !c.capabilitiesCover(id, claim.IssueID) {
			continue
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return ""
	}

	switch strategy {
	case config.StrategyRoundRobin:
		c.rrCursor++
		return eligible[c.rrCursor%len(eligible)]
	case config.StrategyCapabilityBased:
		best, bestScore := eligible[0], -1
		for _, id := range eligible {
			score := c.capabilityScore(id, claim.IssueID)
			if score > bestScore {
				best, bestScore = id, score
			}
		}
		return best
	default:
		// least-loaded and priority-based both send work to the least
		// loaded eligible target; priority-based differs in candidate
		// ordering, which sortCandidates handled.
		best := eligible[0]
		for _, id := range eligible[1:] {
			if snap[id].LoadPercentage < snap[best].LoadPercentage {
				best = id
			}
		}
		return best
	}
}

// capabilitiesCover reports whether the claimant's capabilities include
// everything the issue requires. Issues the directory does not know pass.
func (c *Coordinator) capabilitiesCover(claimantID, issueID string) bool {
	issue, err := c.issues.Get(issueID)
	if err != nil || len(issue.Capabilities) == 0 {
		return true
	}
	have := make(map[string]bool)
	for _, cap := range c.claimants.Resolve(claimantID, types.KindAgent).Capabilities {
		have[cap] = true
	}
	for _, want := range issue.Capabilities {
		if !have[want] {
			return false
		}
	}
	return true
}

func (c *Coordinator) capabilityScore(claimantID, issueID string) int {
	issue, err := c.issues.Get(issueID)
	if err != nil {
		return 0
	}
	have := make(map[string]bool)
	for _, cap := range c.claimants.Resolve(claimantID, types.KindAgent).Capabilities {
		have[cap] = true
	}
	score := 0
	for _, want := range issue.Capabilities {
		if have[want] {
			score++
		}
	}
	return score
}

// applyMove migrates one claim under its issue lock, revalidating the plan
// against the live state. Failures mark the move skipped.
func (c *Coordinator) applyMove(ctx context.Context, move *types.RebalanceMove) []*types.Event {
	unlock, err := c.lockIssue(ctx, move.IssueID)
	if err != nil {
		move.SkipReason = "deadline exceeded"
		return nil
	}
	defer unlock()

	old, ok := c.store.ActiveByIssue(move.IssueID)
	if !ok || old.ID != move.ClaimID || old.Claimant.ID != move.From {
		move.SkipReason = "claim changed during planning"
		return nil
	}
	if old.Status != types.StatusActive && old.Status != types.StatusPaused {
		move.SkipReason = fmt.Sprintf("claim is %s", old.Status)
		return nil
	}
	target := c.claimants.Resolve(move.To, types.KindAgent)
	release := c.lockClaimant(move.To)
	defer release()
	if c.liveCount(move.To) >= target.MaxConcurrentClaims {
		move.SkipReason = "target at max claims"
		return nil
	}

	now := c.clk.Now()
	corr := correlation()
	fresh := c.successorClaim(old, target, now)
	events, err := c.transferClaim(old, fresh, types.CauseRebalance, corr,
		types.EventClaimReleased, types.ClaimReleasedPayload{
			ClaimantID: move.From,
			Reason:     "rebalanced to " + move.To,
			Cause:      types.CauseRebalance,
			ReleasedAt: now,
		})
	if err != nil {
		move.SkipReason = err.Error()
		return nil
	}
	move.NewClaimID = fresh.ID
	move.Applied = true
	return events
}

// RunRebalancer drives periodic passes until ctx is canceled. Pass failures
// are logged by the caller through the returned error only on shutdown.
func (c *Coordinator) RunRebalancer(ctx context.Context) error {
	for {
		interval := c.Config().RebalanceInterval()
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clk.After(interval):
			if _, err := c.Rebalance(ctx, "", false); err != nil {
				log.Printf("coord: rebalance pass failed: %v", err)
			}
		}
	}
}
