package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmhq/claimd/internal/types"
)

// HandoffInput carries the inputs for requesting a cooperative transfer.
// TargetClaimant may be empty for an open handoff anyone can accept.
type HandoffInput struct {
	IssueID        string
	FromID         string
	TargetClaimant string
	TargetKind     types.ClaimantKind
	Reason         types.HandoffReason
	Notes          string
}

// RequestHandoff moves the caller's claim to handoff-pending and records the
// pending request. The claim must be active, paused, or blocked.
func (c *Coordinator) RequestHandoff(ctx context.Context, in HandoffInput) (*types.Claim, error) {
	if !in.Reason.IsValid() {
		return nil, fmt.Errorf("%w: invalid handoff reason %q", ErrValidation, in.Reason)
	}
	if in.TargetClaimant != "" && in.TargetClaimant == in.FromID {
		return nil, fmt.Errorf("%w: cannot hand off to yourself", ErrValidation)
	}

	unlock, err := c.lockIssue(ctx, in.IssueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, err := c.heldBy(in.IssueID, in.FromID)
	if err != nil {
		return nil, err
	}
	if !types.CanTransition(claim.Status, types.StatusHandoffPending) {
		return nil, fmt.Errorf("%w: %s -> handoff-pending", ErrInvalidTransition, claim.Status)
	}

	now := c.clk.Now()
	handoff := types.HandoffRequest{
		ID:             c.newHandoffID(in.IssueID, in.FromID),
		TargetClaimant: in.TargetClaimant,
		TargetKind:     in.TargetKind,
		Reason:         in.Reason,
		Notes:          in.Notes,
		RequestedAt:    now,
		PreviousStatus: claim.Status,
	}
	from := claim.Status
	ev, err := c.mutate(claim, types.EventClaimHandoffRequested, "", types.HandoffRequestedPayload{
		Handoff:     handoff,
		RequestedAt: now,
	})
	if err != nil {
		return nil, err
	}
	c.loads.OnTransition(in.FromID, from, types.StatusHandoffPending)
	c.publish(ev)
	return claim.Clone(), nil
}

// AcceptHandoff closes the pending claim as released with cause handoff and
// opens a fresh claim for the acceptor, carrying priority and progress.
func (c *Coordinator) AcceptHandoff(ctx context.Context, issueID, handoffID, acceptorID string, kind types.ClaimantKind) (*types.Claim, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid claimant kind %q", ErrValidation, kind)
	}

	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	old, err := c.pendingHandoff(issueID, handoffID)
	if err != nil {
		unlock()
		return nil, err
	}
	if old.Handoff.TargetClaimant != "" && old.Handoff.TargetClaimant != acceptorID {
		unlock()
		return nil, fmt.Errorf("%w: handoff targets %s", ErrNotEligible, old.Handoff.TargetClaimant)
	}
	if acceptorID == old.Claimant.ID {
		unlock()
		return nil, fmt.Errorf("%w: cannot accept your own handoff", ErrNotEligible)
	}
	acceptor := c.claimants.Resolve(acceptorID, kind)
	release := c.lockClaimant(acceptorID)
	if c.liveCount(acceptorID) >= acceptor.MaxConcurrentClaims {
		release()
		unlock()
		return nil, fmt.Errorf("%w: %s is at max claims", ErrMaxClaimsExceeded, acceptorID)
	}

	now := c.clk.Now()
	corr := correlation()
	fresh := c.successorClaim(old, acceptor, now)

	events, err := c.transferClaim(old, fresh, types.CauseHandoff, corr,
		types.EventClaimHandoffAccepted, types.HandoffAcceptedPayload{
			HandoffID:  handoffID,
			AcceptedBy: acceptorID,
			NewClaimID: fresh.ID,
			AcceptedAt: now,
		})
	release()
	unlock()
	if err != nil {
		return nil, err
	}
	c.publish(events...)
	return fresh.Clone(), nil
}

// RejectHandoff clears the pending request and restores the previous status.
// A targeted handoff may be rejected by its target; the holder may withdraw
// either form.
func (c *Coordinator) RejectHandoff(ctx context.Context, issueID, handoffID, rejectorID, reason string) (*types.Claim, error) {
	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, err := c.pendingHandoff(issueID, handoffID)
	if err != nil {
		return nil, err
	}
	if rejectorID != claim.Claimant.ID &&
		(claim.Handoff.TargetClaimant == "" || rejectorID != claim.Handoff.TargetClaimant) {
		return nil, fmt.Errorf("%w: only the holder or the target may reject", ErrNotEligible)
	}

	restored := claim.Handoff.PreviousStatus
	ev, err := c.mutate(claim, types.EventClaimHandoffRejected, "", types.HandoffRejectedPayload{
		HandoffID:      handoffID,
		Reason:         reason,
		RestoredStatus: restored,
		RejectedAt:     c.clk.Now(),
	})
	if err != nil {
		return nil, err
	}
	c.loads.OnTransition(claim.Claimant.ID, types.StatusHandoffPending, restored)
	c.publish(ev)
	return claim.Clone(), nil
}

// pendingHandoff returns the live claim if it carries the given pending
// handoff.
func (c *Coordinator) pendingHandoff(issueID, handoffID string) (*types.Claim, error) {
	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimed, issueID)
	}
	if claim.Status != types.StatusHandoffPending || claim.Handoff == nil || claim.Handoff.ID != handoffID {
		return nil, fmt.Errorf("%w: %s", ErrHandoffNotFound, handoffID)
	}
	return claim, nil
}

// successorClaim builds the fresh claim a transfer opens: new id, new
// claimant, priority and progress carried forward from the predecessor.
func (c *Coordinator) successorClaim(old *types.Claim, claimant types.Claimant, now time.Time) *types.Claim {
	return &types.Claim{
		ID:             c.newClaimID(old.IssueID, claimant.ID),
		IssueID:        old.IssueID,
		Claimant:       claimant,
		Status:         types.StatusActive,
		Priority:       old.Priority,
		ClaimedAt:      now,
		LastActivityAt: now,
		Progress:       old.Progress,
		StatusHistory:  []types.StatusChange{{To: types.StatusActive, ChangedAt: now}},
	}
}

// transferClaim terminates old with the given closing event and opens fresh
// in one index swap. Callers hold the issue lock. Returns the events to
// publish: the closing event on old, then claim:created on fresh.
func (c *Coordinator) transferClaim(old, fresh *types.Claim, cause types.CreateCause, corr string, closeType types.EventType, closePayload types.ClaimMutation) ([]*types.Event, error) {
	oldStatus := old.Status
	closeEv := c.newEvent(closeType, old.ID, corr, closePayload)
	if err := c.log.Append(old.IssueID, closeEv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	closePayload.Apply(old)

	createEv := c.newEvent(types.EventClaimCreated, fresh.ID, corr,
		types.ClaimCreatedPayload{Claim: *fresh.Clone(), Cause: cause})
	if err := c.log.Append(fresh.IssueID, createEv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := c.store.ReplaceClaim(old.IssueID, old, fresh); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	c.loads.OnTransition(old.Claimant.ID, oldStatus, old.Status)
	c.loads.OnTransition(fresh.Claimant.ID, "", fresh.Status)
	return []*types.Event{closeEv, createEv}, nil
}
