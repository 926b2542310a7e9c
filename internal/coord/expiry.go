package coord

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/swarmhq/claimd/internal/types"
)

// sweepInterval is how often the scanner wakes. Grace periods, contest
// windows, and expirations resolve on the next sweep after their deadline.
const sweepInterval = time.Second

// Run drives the timer sweeps until ctx is canceled. All time-triggered
// transitions go through the ordinary operation path, so they obey the same
// invariants as caller-initiated ones.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clk.After(sweepInterval):
			c.Sweep()
		}
	}
}

// SweepStats counts what one sweep did.
type SweepStats struct {
	Expired       int
	AutoReleased  int
	AutoMarked    int
	HandoffsAged  int
	ContestsEnded int
}

// Sweep runs one scan: expirations, inactivity releases, handoff aging,
// stale/blocked/overload auto-marking, and contest auto-resolution. Exposed
// for tests; production runs it through Run.
func (c *Coordinator) Sweep() SweepStats {
	var stats SweepStats
	now := c.clk.Now()
	cfg := c.Config()

	// Oldest activity first so stale work ages out before fresher claims.
	live := c.store.ListNonTerminal()
	sort.Slice(live, func(i, j int) bool {
		if !live[i].LastActivityAt.Equal(live[j].LastActivityAt) {
			return live[i].LastActivityAt.Before(live[j].LastActivityAt)
		}
		return live[i].ID < live[j].ID
	})

	for _, snapshot := range live {
		switch {
		case snapshot.ExpiresAt != nil && !now.Before(*snapshot.ExpiresAt):
			if c.expireClaim(snapshot.IssueID, snapshot.ID) {
				stats.Expired++
			}
		case cfg.AutoReleaseOnInactivityMs > 0 &&
			now.Sub(snapshot.LastActivityAt) >= time.Duration(cfg.AutoReleaseOnInactivityMs)*time.Millisecond:
			if c.autoRelease(snapshot) {
				stats.AutoReleased++
			}
		case snapshot.Status == types.StatusHandoffPending &&
			snapshot.Handoff != nil && snapshot.Handoff.ExpiresAt != nil &&
			!now.Before(*snapshot.Handoff.ExpiresAt):
			if c.ageHandoff(snapshot) {
				stats.HandoffsAged++
			}
		default:
			if c.autoMark(snapshot, now, cfg.StaleThreshold(), cfg.BlockedThreshold()) {
				stats.AutoMarked++
			}
		}
	}

	stats.AutoMarked += c.markOverloaded(cfg.OverloadThreshold)

	for _, claim := range c.store.ListContested() {
		if claim.Contest == nil || now.Before(claim.Contest.EndsAt) {
			continue
		}
		_, err := c.ResolveContest(context.Background(), claim.Contest.ID,
			types.ResolutionDefender, "system")
		if err == nil {
			stats.ContestsEnded++
		} else if !errors.Is(err, ErrNoActiveSteal) {
			log.Printf("coord: auto-resolving contest %s: %v", claim.Contest.ID, err)
		}
	}

	c.loads.Reconcile(c.store.CountsByClaimant)
	return stats
}

// expireClaim terminates a claim whose deadline passed. Claims still inside
// their grace period or carrying an open contest are left for a later sweep.
func (c *Coordinator) expireClaim(issueID, claimID string) bool {
	unlock, err := c.lockIssue(context.Background(), issueID)
	if err != nil {
		return false
	}
	defer unlock()

	claim, ok := c.store.ActiveByIssue(issueID)
	if !ok || claim.ID != claimID {
		return false
	}
	now := c.clk.Now()
	if claim.ExpiresAt == nil || now.Before(*claim.ExpiresAt) {
		return false
	}
	// An open contest defers expiry to the sweep after its resolution.
	if claim.Contest != nil && claim.Contest.Resolution == nil {
		return false
	}

	from := claim.Status
	ev, err := c.mutate(claim, types.EventClaimExpired, "", types.ExpiredPayload{ExpiredAt: now})
	if err != nil {
		log.Printf("coord: expiring claim %s: %v", claimID, err)
		return false
	}
	c.loads.OnTransition(claim.Claimant.ID, from, types.StatusExpired)
	c.publish(ev)
	return true
}

// autoRelease drops a claim whose holder went quiet past the configured
// inactivity window.
func (c *Coordinator) autoRelease(snapshot *types.Claim) bool {
	_, err := c.Release(context.Background(), snapshot.IssueID, snapshot.Claimant.ID,
		"auto-released after inactivity")
	if err != nil && !notFoundIs(err) && !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotOwner) {
		log.Printf("coord: auto-releasing claim %s: %v", snapshot.ID, err)
	}
	return err == nil
}

// ageHandoff rejects a handoff nobody accepted before its deadline.
func (c *Coordinator) ageHandoff(snapshot *types.Claim) bool {
	_, err := c.RejectHandoff(context.Background(), snapshot.IssueID,
		snapshot.Handoff.ID, snapshot.Claimant.ID, "handoff expired")
	if err != nil && !notFoundIs(err) && !errors.Is(err, ErrHandoffNotFound) {
		log.Printf("coord: aging handoff %s: %v", snapshot.Handoff.ID, err)
	}
	return err == nil
}

// autoMark flags stale and long-blocked claims stealable.
func (c *Coordinator) autoMark(snapshot *types.Claim, now time.Time, staleAfter, blockedAfter time.Duration) bool {
	var reason types.StealReason
	switch snapshot.Status {
	case types.StatusActive, types.StatusPaused:
		if staleAfter <= 0 || now.Sub(snapshot.LastActivityAt) < staleAfter {
			return false
		}
		reason = types.StealReasonStale
	case types.StatusBlocked:
		if snapshot.Blocked == nil || blockedAfter <= 0 || now.Sub(snapshot.Blocked.BlockedAt) < blockedAfter {
			return false
		}
		reason = types.StealReasonBlocked
	default:
		return false
	}
	return c.autoMarkOne(snapshot, reason)
}

// markOverloaded flags the lowest-priority claim of any claimant holding
// more than the overload threshold.
func (c *Coordinator) markOverloaded(threshold int) int {
	if threshold <= 0 {
		return 0
	}
	marked := 0
	for claimantID, count := range c.store.CountsByClaimant() {
		if count <= threshold {
			continue
		}
		claims, _ := c.store.ListByClaimant(types.ClaimFilter{ClaimantID: claimantID})
		candidates := movableClaims(claims)
		if len(candidates) == 0 {
			continue
		}
		// Least urgent first, then newest, so the cheapest work sheds first.
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Priority.Rank() != b.Priority.Rank() {
				return a.Priority.Rank() > b.Priority.Rank()
			}
			if !a.ClaimedAt.Equal(b.ClaimedAt) {
				return a.ClaimedAt.After(b.ClaimedAt)
			}
			return a.ID < b.ID
		})
		if c.autoMarkOne(candidates[0], types.StealReasonOverloaded) {
			marked++
		}
	}
	return marked
}

// autoMarkOne re-reads the claim under its lock and applies the marking.
func (c *Coordinator) autoMarkOne(snapshot *types.Claim, reason types.StealReason) bool {
	unlock, err := c.lockIssue(context.Background(), snapshot.IssueID)
	if err != nil {
		return false
	}
	defer unlock()

	claim, ok := c.store.ActiveByIssue(snapshot.IssueID)
	if !ok || claim.ID != snapshot.ID {
		return false
	}
	ev, err := c.markStealableLocked(claim, reason)
	if err != nil {
		if !errors.Is(err, ErrInGrace) && !errors.Is(err, ErrAlreadyStealable) &&
			!errors.Is(err, ErrInvalidTransition) {
			log.Printf("coord: auto-marking claim %s: %v", claim.ID, err)
		}
		return false
	}
	c.publish(ev)
	return true
}
