package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swarmhq/claimd/internal/store"
	"github.com/swarmhq/claimd/internal/types"
)

// ClaimRequest carries the inputs for opening a claim.
type ClaimRequest struct {
	IssueID    string
	ClaimantID string
	Kind       types.ClaimantKind
	Priority   types.Priority // optional; defaults to the issue's, then medium
	TTL        time.Duration  // optional; falls back to the configured default
}

// Claim opens a new claim on an issue. The issue must exist in the
// directory, must not already have a live claim, and the claimant must be
// under its concurrency cap.
func (c *Coordinator) Claim(ctx context.Context, req ClaimRequest) (*types.Claim, error) {
	if req.IssueID == "" || req.ClaimantID == "" {
		return nil, fmt.Errorf("%w: issue id and claimant id are required", ErrValidation)
	}
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid claimant kind %q", ErrValidation, req.Kind)
	}
	issue, err := c.issues.Get(req.IssueID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.lockIssue(ctx, req.IssueID)
	if err != nil {
		return nil, err
	}

	if existing, ok := c.store.ActiveByIssue(req.IssueID); ok {
		unlock()
		return nil, fmt.Errorf("%w: %s held by %s",
			store.ErrAlreadyClaimed, req.IssueID, existing.Claimant.ID)
	}

	claimant := c.claimants.Resolve(req.ClaimantID, req.Kind)
	release := c.lockClaimant(req.ClaimantID)
	if count := c.liveCount(req.ClaimantID); count >= claimant.MaxConcurrentClaims {
		release()
		unlock()
		return nil, fmt.Errorf("%w: %s has %d live claims (max %d)",
			ErrMaxClaimsExceeded, req.ClaimantID, count, claimant.MaxConcurrentClaims)
	}

	cfg := c.Config()
	now := c.clk.Now()
	claim := &types.Claim{
		ID:             c.newClaimID(req.IssueID, req.ClaimantID),
		IssueID:        req.IssueID,
		Claimant:       claimant,
		Status:         types.StatusActive,
		Priority:       claimPriority(req.Priority, issue.Priority),
		ClaimedAt:      now,
		LastActivityAt: now,
		StatusHistory:  []types.StatusChange{{To: types.StatusActive, ChangedAt: now}},
	}
	ttl := req.TTL
	if ttl <= 0 && cfg.DefaultExpirationMs > 0 {
		ttl = time.Duration(cfg.DefaultExpirationMs) * time.Millisecond
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		claim.ExpiresAt = &exp
	}

	ev, err := c.openClaim(claim, types.CauseClaim, "")
	release()
	unlock()
	if err != nil {
		return nil, err
	}
	c.publish(ev)
	return claim.Clone(), nil
}

// openClaim appends the created event and installs the claim. Callers hold
// the issue lock and have verified the issue index is free.
func (c *Coordinator) openClaim(claim *types.Claim, cause types.CreateCause, correlationID string) (*types.Event, error) {
	ev := c.newEvent(types.EventClaimCreated, claim.ID, correlationID,
		types.ClaimCreatedPayload{Claim: *claim.Clone(), Cause: cause})
	if err := c.log.Append(claim.IssueID, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := c.store.TryOpenClaim(claim); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	c.loads.OnTransition(claim.Claimant.ID, "", claim.Status)
	return ev, nil
}

// Release terminates the caller's claim on an issue.
func (c *Coordinator) Release(ctx context.Context, issueID, claimantID, reason string) (*types.Claim, error) {
	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	claim, err := c.heldBy(issueID, claimantID)
	if err != nil {
		unlock()
		return nil, err
	}
	if !types.CanTransition(claim.Status, types.StatusReleased) {
		unlock()
		return nil, fmt.Errorf("%w: %s -> released", ErrInvalidTransition, claim.Status)
	}

	from := claim.Status
	ev, err := c.mutate(claim, types.EventClaimReleased, "", types.ClaimReleasedPayload{
		ClaimantID: claimantID,
		Reason:     reason,
		ReleasedAt: c.clk.Now(),
	})
	if err == nil {
		c.loads.OnTransition(claimantID, from, types.StatusReleased)
	}
	unlock()
	if err != nil {
		return nil, err
	}
	c.publish(ev)
	return claim.Clone(), nil
}

// UpdateStatus applies a state-machine transition on the caller's claim.
// Completed is terminal; blocked records the note as the block reason. A
// same-status update is a touch: it refreshes activity and may carry a
// progress bump.
func (c *Coordinator) UpdateStatus(ctx context.Context, issueID, claimantID string, to types.ClaimStatus, note string, progress *int) (*types.Claim, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, to)
	}
	if progress != nil && (*progress < 0 || *progress > 100) {
		return nil, fmt.Errorf("%w: progress must be between 0 and 100", ErrValidation)
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
	if to != claim.Status && !types.CanTransition(claim.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, claim.Status, to)
	}
	if progress != nil && *progress < claim.Progress {
		return nil, fmt.Errorf("%w: %d -> %d", ErrProgressRegression, claim.Progress, *progress)
	}

	from := claim.Status
	ev, err := c.mutate(claim, types.EventClaimStatusChanged, "", types.StatusChangedPayload{
		From:      from,
		To:        to,
		Note:      note,
		Progress:  progress,
		ChangedAt: c.clk.Now(),
	})
	if err != nil {
		return nil, err
	}
	c.loads.OnTransition(claimantID, from, to)
	c.publish(ev)
	return claim.Clone(), nil
}

// SetProgress records a monotone progress update on the caller's claim.
func (c *Coordinator) SetProgress(ctx context.Context, issueID, claimantID string, progress int) (*types.Claim, error) {
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("%w: progress must be between 0 and 100", ErrValidation)
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
	if progress < claim.Progress {
		return nil, fmt.Errorf("%w: %d -> %d", ErrProgressRegression, claim.Progress, progress)
	}

	ev, err := c.mutate(claim, types.EventClaimProgressUpdated, "", types.ProgressUpdatedPayload{
		Progress:  progress,
		UpdatedAt: c.clk.Now(),
	})
	if err != nil {
		return nil, err
	}
	c.publish(ev)
	return claim.Clone(), nil
}

// AddNote appends a free-form note to the issue's live claim. Notes are not
// restricted to the holder.
func (c *Coordinator) AddNote(ctx context.Context, issueID, author, text string) (*types.Claim, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: note text is required", ErrValidation)
	}

	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimed, issueID)
	}

	ev, err := c.mutate(claim, types.EventClaimNoteAdded, "", types.NoteAddedPayload{
		Note: types.Note{Author: author, Text: text, CreatedAt: c.clk.Now()},
	})
	if err != nil {
		return nil, err
	}
	c.publish(ev)
	return claim.Clone(), nil
}

// RequestReview moves the caller's claim to review-requested.
func (c *Coordinator) RequestReview(ctx context.Context, issueID, claimantID, note string) (*types.Claim, error) {
	return c.UpdateStatus(ctx, issueID, claimantID, types.StatusReviewRequested, note, nil)
}

// CompleteReview closes out a review: approved completes the claim,
// otherwise it returns to active. The reviewer need not be the holder.
func (c *Coordinator) CompleteReview(ctx context.Context, issueID, reviewerID string, approved bool, note string) (*types.Claim, error) {
	unlock, err := c.lockIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimed, issueID)
	}
	if claim.Status != types.StatusReviewRequested {
		return nil, fmt.Errorf("%w: review not requested (status %s)", ErrInvalidTransition, claim.Status)
	}

	to := types.StatusActive
	if approved {
		to = types.StatusCompleted
	}
	if note == "" {
		note = "review by " + reviewerID
	}
	from := claim.Status
	ev, err := c.mutate(claim, types.EventClaimStatusChanged, "", types.StatusChangedPayload{
		From: from, To: to, Note: note, ChangedAt: c.clk.Now(),
	})
	if err != nil {
		return nil, err
	}
	c.loads.OnTransition(claim.Claimant.ID, from, to)
	c.publish(ev)
	return claim.Clone(), nil
}

// heldBy returns the issue's live claim if claimantID holds it.
func (c *Coordinator) heldBy(issueID, claimantID string) (*types.Claim, error) {
	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimed, issueID)
	}
	if claim.Claimant.ID != claimantID {
		return nil, fmt.Errorf("%w: %s is held by %s", ErrNotOwner, issueID, claim.Claimant.ID)
	}
	return claim, nil
}

func claimPriority(requested, issue types.Priority) types.Priority {
	if requested != "" && requested.IsValid() {
		return requested
	}
	if issue != "" && issue.IsValid() {
		return issue
	}
	return types.PriorityMedium
}

// notFoundIs reports whether err is any of the not-found family, used by
// sweep paths that tolerate claims vanishing mid-scan.
func notFoundIs(err error) bool {
	return errors.Is(err, ErrNotClaimed) || errors.Is(err, store.ErrNotFound)
}
