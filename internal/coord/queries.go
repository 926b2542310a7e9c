package coord

import (
	"time"

	"github.com/swarmhq/claimd/internal/types"
)

// Read-only queries. None of these take the per-issue writer locks; each
// sees a consistent snapshot of the store.

// GetClaim returns a claim by id.
func (c *Coordinator) GetClaim(claimID string) (*types.Claim, error) {
	return c.store.Get(claimID)
}

// ActiveClaim returns the live claim for an issue, if any.
func (c *Coordinator) ActiveClaim(issueID string) (*types.Claim, bool) {
	return c.store.ActiveByIssue(issueID)
}

// ListAvailable returns unclaimed issues matching the filter plus the total
// match count before pagination.
func (c *Coordinator) ListAvailable(filter types.IssueFilter) ([]*types.IssueRef, int) {
	return c.issues.List(filter, c.store.ClaimedIssueIDs())
}

// ListMine returns a claimant's claims. Live claims by default; a terminal
// status in the filter switches to history.
func (c *Coordinator) ListMine(filter types.ClaimFilter) ([]*types.Claim, int) {
	return c.store.ListByClaimant(filter)
}

// Board returns every live claim plus counts by status.
func (c *Coordinator) Board() ([]*types.Claim, map[types.ClaimStatus]int) {
	claims := c.store.ListNonTerminal()
	counts := make(map[types.ClaimStatus]int)
	for _, claim := range claims {
		counts[claim.Status]++
	}
	return claims, counts
}

// GetStealable returns stealable claims, most urgent first, optionally
// filtered by priority and truncated to limit.
func (c *Coordinator) GetStealable(priority *types.Priority, limit int) []*types.Claim {
	claims := c.store.ListStealable()
	if priority != nil {
		filtered := claims[:0]
		for _, claim := range claims {
			if claim.Priority == *priority {
				filtered = append(filtered, claim)
			}
		}
		claims = filtered
	}
	if limit > 0 && len(claims) > limit {
		claims = claims[:limit]
	}
	return claims
}

// LoadInfo returns the load sample for one claimant.
func (c *Coordinator) LoadInfo(claimantID string) types.LoadSample {
	return c.loads.Sample(claimantID)
}

// LoadOverview returns samples for every known claimant, including
// registered-but-idle ones.
func (c *Coordinator) LoadOverview() map[string]types.LoadSample {
	return c.loadSnapshot()
}

// History returns the ordered event history for an issue across all of its
// claims. limit keeps the newest entries.
func (c *Coordinator) History(issueID string, limit int) []*types.Event {
	events := c.log.ByIssue(issueID)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// MetricsReport aggregates claim activity over a time range.
type MetricsReport struct {
	Since           time.Time                 `json:"since,omitempty"`
	Created         int                       `json:"created"`
	Completed       int                       `json:"completed"`
	Released        int                       `json:"released"`
	Expired         int                       `json:"expired"`
	Stolen          int                       `json:"stolen"`
	Contests        int                       `json:"contests"`
	Rebalances      int                       `json:"rebalances"`
	LiveByStatus    map[types.ClaimStatus]int `json:"live_by_status"`
	LiveByPriority  map[types.Priority]int    `json:"live_by_priority"`
	AvgCompletionMs int64                     `json:"avg_completion_ms"`
	AvgLiveAgeMs    int64                     `json:"avg_live_age_ms"`
}

// Metrics computes the report for events since the given instant. A zero
// since covers everything.
func (c *Coordinator) Metrics(since time.Time) MetricsReport {
	report := MetricsReport{
		Since:          since,
		LiveByStatus:   make(map[types.ClaimStatus]int),
		LiveByPriority: make(map[types.Priority]int),
	}

	var zero time.Time
	report.Created = len(c.log.ByType(types.EventClaimCreated, since, zero))
	report.Released = len(c.log.ByType(types.EventClaimReleased, since, zero))
	report.Expired = len(c.log.ByType(types.EventClaimExpired, since, zero))
	report.Stolen = len(c.log.ByType(types.EventStealIssueStolen, since, zero))
	report.Contests = len(c.log.ByType(types.EventStealContestStarted, since, zero))
	report.Rebalances = len(c.log.ByType(types.EventSwarmRebalanced, since, zero))

	now := c.clk.Now()
	var completionTotal time.Duration
	var liveAgeTotal time.Duration
	liveCount := 0
	for _, claim := range c.store.All() {
		if !claim.Status.IsTerminal() {
			report.LiveByStatus[claim.Status]++
			report.LiveByPriority[claim.Priority]++
			liveAgeTotal += now.Sub(claim.ClaimedAt)
			liveCount++
			continue
		}
		if claim.Status != types.StatusCompleted || len(claim.StatusHistory) == 0 {
			continue
		}
		completedAt := claim.StatusHistory[len(claim.StatusHistory)-1].ChangedAt
		if !since.IsZero() && completedAt.Before(since) {
			continue
		}
		report.Completed++
		completionTotal += completedAt.Sub(claim.ClaimedAt)
	}
	if report.Completed > 0 {
		report.AvgCompletionMs = completionTotal.Milliseconds() / int64(report.Completed)
	}
	if liveCount > 0 {
		report.AvgLiveAgeMs = liveAgeTotal.Milliseconds() / int64(liveCount)
	}
	return report
}
