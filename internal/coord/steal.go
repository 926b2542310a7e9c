package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmhq/claimd/internal/types"
)

// StealResult reports a successful ownership transfer.
type StealResult struct {
	Claim               *types.Claim `json:"claim"`
	PreviousClaimant    string       `json:"previous_claimant"`
	ContestWindowEndsAt time.Time    `json:"contest_window_ends_at"`
}

// MarkStealable flags the caller's claim as up for grabs. The claim must be
// out of its grace period and in a status that permits the transition.
func (c *Coordinator) MarkStealable(ctx context.Context, issueID, claimantID string, reason types.StealReason) (*types.Claim, error) {
	if reason == "" {
		reason = types.StealReasonManual
	}

	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, err := c.heldBy(issueID, claimantID)
	if err != nil {
		return nil, err
	}
	ev, err := c.markStealableLocked(claim, reason)
	if err != nil {
		return nil, err
	}
	c.publish(ev)
	return claim.Clone(), nil
}

// markStealableLocked applies the stealable marking. Callers hold the issue
// lock; the sweep path reuses this for auto-marking.
func (c *Coordinator) markStealableLocked(claim *types.Claim, reason types.StealReason) (*types.Event, error) {
	if claim.Status == types.StatusStealable {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStealable, claim.IssueID)
	}
	if !types.CanTransition(claim.Status, types.StatusStealable) {
		return nil, fmt.Errorf("%w: %s -> stealable", ErrInvalidTransition, claim.Status)
	}
	now := c.clk.Now()
	graceEnds := claim.ClaimedAt.Add(c.Config().GracePeriod())
	if now.Before(graceEnds) {
		return nil, fmt.Errorf("%w: until %s", ErrInGrace, graceEnds.Format(time.RFC3339))
	}

	from := claim.Status
	ev, err := c.mutate(claim, types.EventStealMarkedStealable, "", types.MarkedStealablePayload{
		Info: types.StealableInfo{
			Reason:            reason,
			MarkedAt:          now,
			GracePeriodEndsAt: now, // grace already served; stealing may begin at once
			OriginalClaimant:  claim.Claimant.ID,
		},
		From:     from,
		MarkedAt: now,
	})
	if err != nil {
		return nil, err
	}
	c.loads.OnTransition(claim.Claimant.ID, from, types.StatusStealable)
	return ev, nil
}

// Steal transfers a stealable claim to the stealer. The predecessor claim
// terminates as stolen; the fresh claim inherits priority and progress and a
// contest window opens for the previous holder.
func (c *Coordinator) Steal(ctx context.Context, issueID, stealerID string, kind types.ClaimantKind, stealerType, reason string) (*StealResult, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid claimant kind %q", ErrValidation, kind)
	}

	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	result, events, err := c.stealLocked(issueID, stealerID, kind, stealerType, reason)
	unlock()
	if err != nil {
		return nil, err
	}
	c.publish(events...)
	return result, nil
}

func (c *Coordinator) stealLocked(issueID, stealerID string, kind types.ClaimantKind, stealerType, reason string) (*StealResult, []*types.Event, error) {
	old, ok := c.store.ActiveByIssue(issueID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotClaimed, issueID)
	}
	if old.Status != types.StatusStealable || old.Stealable == nil {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotStealable, issueID, old.Status)
	}
	if stealerID == old.Claimant.ID {
		return nil, nil, fmt.Errorf("%w: cannot steal your own claim", ErrNotEligible)
	}

	cfg := c.Config()
	now := c.clk.Now()
	if now.Before(old.Stealable.GracePeriodEndsAt) {
		return nil, nil, fmt.Errorf("%w: until %s", ErrInGrace,
			old.Stealable.GracePeriodEndsAt.Format(time.RFC3339))
	}
	if old.Progress >= cfg.MinProgressToProtect {
		return nil, nil, fmt.Errorf("%w: progress %d%% (protection at %d%%)",
			ErrProtectedByProgress, old.Progress, cfg.MinProgressToProtect)
	}
	if min := old.Stealable.MinPriorityToSteal; min != "" && old.Priority.Rank() > min.Rank() {
		return nil, nil, fmt.Errorf("%w: priority %s below the %s floor",
			ErrNotStealable, old.Priority, min)
	}
	if !cfg.CrossTypeAllowed(old.Claimant.AgentType, stealerType) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrCrossTypeNotAllowed,
			old.Claimant.AgentType, stealerType)
	}
	stealer := c.claimants.Resolve(stealerID, kind)
	if stealerType != "" {
		stealer.AgentType = stealerType
	}
	release := c.lockClaimant(stealerID)
	defer release()
	if count := c.liveCount(stealerID); count >= stealer.MaxConcurrentClaims {
		return nil, nil, fmt.Errorf("%w: %s has %d live claims",
			ErrStealerOverloaded, stealerID, count)
	}

	corr := correlation()
	fresh := c.successorClaim(old, stealer, now)
	windowEnds := now.Add(cfg.ContestWindow())

	events, err := c.transferClaim(old, fresh, types.CauseSteal, corr,
		types.EventClaimStatusChanged, types.StatusChangedPayload{
			From:      types.StatusStealable,
			To:        types.StatusStolen,
			Note:      reason,
			ChangedAt: now,
		})
	if err != nil {
		return nil, nil, err
	}

	stolenEv := c.newEvent(types.EventStealIssueStolen, issueID, corr, types.IssueStolenPayload{
		OldClaimID:          old.ID,
		NewClaimID:          fresh.ID,
		PreviousClaimant:    old.Claimant.ID,
		Stealer:             stealerID,
		Reason:              reason,
		Progress:            fresh.Progress,
		ContestWindowEndsAt: windowEnds,
		StolenAt:            now,
	})
	if err := c.log.Append(issueID, stolenEv); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	events = append(events, stolenEv)

	return &StealResult{
		Claim:               fresh.Clone(),
		PreviousClaimant:    old.Claimant.ID,
		ContestWindowEndsAt: windowEnds,
	}, events, nil
}

// Contest lets the previous holder challenge a steal before the window
// closes. The contest rides on the stealer's claim until resolved.
func (c *Coordinator) Contest(ctx context.Context, issueID, contesterID, reason string) (*types.Contest, error) {
	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	steal := c.lastSteal(issueID)
	if steal == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSteal, issueID)
	}
	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok || claim.ID != steal.NewClaimID {
		return nil, fmt.Errorf("%w: stolen claim is no longer live", ErrNoActiveSteal)
	}
	now := c.clk.Now()
	if !now.Before(steal.ContestWindowEndsAt) {
		return nil, fmt.Errorf("%w: ended %s", ErrWindowClosed,
			steal.ContestWindowEndsAt.Format(time.RFC3339))
	}
	if contesterID != steal.PreviousClaimant {
		return nil, fmt.Errorf("%w: only %s may contest", ErrNotEligible, steal.PreviousClaimant)
	}
	if claim.Contest != nil && claim.Contest.Resolution == nil {
		return nil, fmt.Errorf("%w: %s", ErrContestPending, claim.Contest.ID)
	}

	contest := types.Contest{
		ID:         c.newContestID(issueID, contesterID),
		Defender:   claim.Claimant.ID,
		Challenger: contesterID,
		Reason:     reason,
		StartedAt:  now,
		EndsAt:     steal.ContestWindowEndsAt,
	}
	ev, err := c.mutate(claim, types.EventStealContestStarted, "", types.ContestStartedPayload{
		Contest: contest,
	})
	if err != nil {
		return nil, err
	}
	c.publish(ev)
	return &contest, nil
}

// ResolveContest decides an open contest. A challenger win reverses the
// steal: the defender's claim is released with cause contest and a fresh
// claim reopens for the challenger carrying the defender's progress. A
// defender win (also the automatic outcome at the window's end) leaves the
// steal standing.
func (c *Coordinator) ResolveContest(ctx context.Context, contestID string, winner types.ContestResolution, resolverID string) (*types.Claim, error) {
	if !winner.IsValid() {
		return nil, fmt.Errorf("%w: invalid resolution %q", ErrValidation, winner)
	}

	target := c.findContested(contestID)
	if target == "" {
		return nil, fmt.Errorf("%w: no open contest %s", ErrNoActiveSteal, contestID)
	}

	unlock, err := c.lockIssue(ctx, target)
	if err != nil {
		return nil, err
	}

	claim, events, err := c.resolveContestLocked(target, contestID, winner, resolverID)
	unlock()
	if err != nil {
		return nil, err
	}
	c.publish(events...)
	return claim, nil
}

func (c *Coordinator) resolveContestLocked(issueID, contestID string, winner types.ContestResolution, resolverID string) (*types.Claim, []*types.Event, error) {
	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok || claim.Contest == nil || claim.Contest.ID != contestID || claim.Contest.Resolution != nil {
		return nil, nil, fmt.Errorf("%w: no open contest %s", ErrNoActiveSteal, contestID)
	}

	now := c.clk.Now()
	corr := correlation()
	resolvedEv, err := c.mutate(claim, types.EventStealContestResolved, corr, types.ContestResolvedPayload{
		ContestID:  contestID,
		Resolution: winner,
		ResolvedBy: resolverID,
		ResolvedAt: now,
	})
	if err != nil {
		return nil, nil, err
	}
	events := []*types.Event{resolvedEv}

	if winner == types.ResolutionDefender {
		return claim.Clone(), events, nil
	}

	// Challenger wins: reverse the steal.
	challenger := c.claimants.Resolve(claim.Contest.Challenger, claim.Claimant.Kind)
	fresh := c.successorClaim(claim, challenger, now)
	transfer, err := c.transferClaim(claim, fresh, types.CauseContest, corr,
		types.EventClaimReleased, types.ClaimReleasedPayload{
			ClaimantID: claim.Claimant.ID,
			Reason:     "contest resolved for challenger",
			Cause:      types.CauseContest,
			ReleasedAt: now,
		})
	if err != nil {
		return nil, nil, err
	}
	return fresh.Clone(), append(events, transfer...), nil
}

// findContested locates the issue whose live claim carries the open contest.
func (c *Coordinator) findContested(contestID string) string {
	for _, claim := range c.store.ListContested() {
		if claim.Contest != nil && claim.Contest.ID == contestID {
			return claim.IssueID
		}
	}
	return ""
}

// lastSteal returns the most recent ownership-transfer record for an issue.
func (c *Coordinator) lastSteal(issueID string) *types.IssueStolenPayload {
	events := c.log.ByIssue(issueID)
	for i := len(events) - 1; i >= 0; i-- {
		if p, ok := events[i].Payload.(types.IssueStolenPayload); ok {
			return &p
		}
	}
	return nil
}
