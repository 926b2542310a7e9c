// Package types defines core data structures for the claimd coordinator.
package types

import (
	"fmt"
	"time"
)

// ClaimStatus represents the current state of a claim.
type ClaimStatus string

// Claim status constants
const (
	StatusActive          ClaimStatus = "active"
	StatusPaused          ClaimStatus = "paused"
	StatusBlocked         ClaimStatus = "blocked"
	StatusHandoffPending  ClaimStatus = "handoff-pending"
	StatusReviewRequested ClaimStatus = "review-requested"
	StatusStealable       ClaimStatus = "stealable"
	StatusCompleted       ClaimStatus = "completed"
	StatusReleased        ClaimStatus = "released"
	StatusExpired         ClaimStatus = "expired"
	StatusStolen          ClaimStatus = "stolen"
)

// IsValid checks if the status value is valid.
func (s ClaimStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusBlocked, StatusHandoffPending,
		StatusReviewRequested, StatusStealable, StatusCompleted,
		StatusReleased, StatusExpired, StatusStolen:
		return true
	}
	return false
}

// IsTerminal returns true if the status has no outgoing transitions.
// An issue may accumulate any number of terminal claims but holds at most
// one non-terminal claim at a time.
func (s ClaimStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusReleased, StatusExpired, StatusStolen:
		return true
	}
	return false
}

// legalTransitions is the claim state-machine table. Terminal statuses have
// no entry: nothing transitions out of them.
var legalTransitions = map[ClaimStatus][]ClaimStatus{
	StatusActive: {StatusPaused, StatusBlocked, StatusHandoffPending,
		StatusReviewRequested, StatusStealable, StatusCompleted, StatusReleased},
	StatusPaused: {StatusActive, StatusBlocked, StatusHandoffPending,
		StatusStealable, StatusCompleted, StatusReleased},
	StatusBlocked: {StatusActive, StatusPaused, StatusStealable,
		StatusCompleted, StatusReleased},
	StatusHandoffPending:  {StatusActive, StatusCompleted, StatusReleased},
	StatusReviewRequested: {StatusActive, StatusCompleted, StatusBlocked},
	StatusStealable:       {StatusActive, StatusCompleted, StatusStolen},
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Expiration is handled separately: any non-terminal
// status may move to expired when its deadline passes.
func CanTransition(from, to ClaimStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Priority represents the urgency of a claim. It is immutable after the
// claim is created; steals and handoffs carry it forward onto the new claim.
type Priority string

// Priority constants
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IsValid checks if the priority value is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns a sortable weight, lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// ClaimantKind distinguishes human workers from agents.
type ClaimantKind string

// Claimant kind constants
const (
	KindHuman ClaimantKind = "human"
	KindAgent ClaimantKind = "agent"
)

// IsValid checks if the claimant kind is valid.
func (k ClaimantKind) IsValid() bool {
	return k == KindHuman || k == KindAgent
}

// Claimant is an external identity. The coordinator does not authenticate
// it; the id arrives as an input on every operation.
type Claimant struct {
	ID                  string       `json:"id"`
	Kind                ClaimantKind `json:"kind"`
	AgentType           string       `json:"agent_type,omitempty"`
	MaxConcurrentClaims int          `json:"max_concurrent_claims,omitempty"`
	Capabilities        []string     `json:"capabilities,omitempty"`
}

// StealReason categorizes why a claim was marked stealable.
type StealReason string

// Steal reason constants
const (
	StealReasonStale      StealReason = "stale"
	StealReasonBlocked    StealReason = "blocked"
	StealReasonOverloaded StealReason = "overloaded"
	StealReasonManual     StealReason = "manual"
)

// IsValid checks if the steal reason is valid.
func (r StealReason) IsValid() bool {
	switch r {
	case StealReasonStale, StealReasonBlocked, StealReasonOverloaded, StealReasonManual:
		return true
	}
	return false
}

// StealableInfo records the stealable marking on a claim.
type StealableInfo struct {
	Reason             StealReason `json:"reason"`
	MarkedAt           time.Time   `json:"marked_at"`
	GracePeriodEndsAt  time.Time   `json:"grace_period_ends_at"`
	MinPriorityToSteal Priority    `json:"min_priority_to_steal,omitempty"`
	RequiresContest    bool        `json:"requires_contest,omitempty"`
	OriginalClaimant   string      `json:"original_claimant"`
}

// BlockedInfo records why a claim is blocked.
type BlockedInfo struct {
	Reason      string    `json:"reason"`
	Description string    `json:"description,omitempty"`
	BlockedAt   time.Time `json:"blocked_at"`
}

// HandoffReason categorizes why a handoff was requested.
type HandoffReason string

// Handoff reason constants
const (
	HandoffBlocked         HandoffReason = "blocked"
	HandoffExpertiseNeeded HandoffReason = "expertise-needed"
	HandoffCapacity        HandoffReason = "capacity"
	HandoffReassignment    HandoffReason = "reassignment"
	HandoffOther           HandoffReason = "other"
)

// IsValid checks if the handoff reason is valid.
func (r HandoffReason) IsValid() bool {
	switch r {
	case HandoffBlocked, HandoffExpertiseNeeded, HandoffCapacity,
		HandoffReassignment, HandoffOther:
		return true
	}
	return false
}

// HandoffRequest records a pending cooperative transfer. TargetClaimant may
// be empty for an open handoff that any worker can accept.
type HandoffRequest struct {
	ID             string        `json:"id"`
	TargetClaimant string        `json:"target_claimant,omitempty"`
	TargetKind     ClaimantKind  `json:"target_kind,omitempty"`
	Reason         HandoffReason `json:"reason"`
	Notes          string        `json:"notes,omitempty"`
	RequestedAt    time.Time     `json:"requested_at"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	PreviousStatus ClaimStatus   `json:"previous_status"`
}

// ContestResolution records who won a contest.
type ContestResolution string

// Contest resolution constants
const (
	ResolutionDefender   ContestResolution = "defender"
	ResolutionChallenger ContestResolution = "challenger"
)

// IsValid checks if the contest resolution is valid.
func (r ContestResolution) IsValid() bool {
	return r == ResolutionDefender || r == ResolutionChallenger
}

// Contest records a challenge to a completed steal. Defender is the current
// holder (the stealer); Challenger is the previous claimant.
type Contest struct {
	ID         string             `json:"id"`
	Defender   string             `json:"defender"`
	Challenger string             `json:"challenger"`
	Reason     string             `json:"reason,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	EndsAt     time.Time          `json:"ends_at"`
	Resolution *ContestResolution `json:"resolution,omitempty"`
	ResolvedBy string             `json:"resolved_by,omitempty"`
}

// Note is a free-form annotation on a claim.
type Note struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusChange is one entry in a claim's status history.
type StatusChange struct {
	From      ClaimStatus `json:"from,omitempty"` // empty for the initial entry
	To        ClaimStatus `json:"to"`
	Note      string      `json:"note,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}

// Claim is the aggregate: the currently recognized right of one claimant to
// work a given issue. A steal or handoff terminates the claim and opens a
// fresh one with a new id, carrying priority and progress forward.
type Claim struct {
	ID             string            `json:"id"`
	IssueID        string            `json:"issue_id"`
	Claimant       Claimant          `json:"claimant"`
	Status         ClaimStatus       `json:"status"`
	Priority       Priority          `json:"priority"`
	ClaimedAt      time.Time         `json:"claimed_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Progress       int               `json:"progress"` // 0-100, monotone within a claim id
	Stealable      *StealableInfo    `json:"stealable,omitempty"`
	Blocked        *BlockedInfo      `json:"blocked,omitempty"`
	Handoff        *HandoffRequest   `json:"handoff,omitempty"`
	Contest        *Contest          `json:"contest,omitempty"`
	Notes          []Note            `json:"notes,omitempty"`
	StatusHistory  []StatusChange    `json:"status_history"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate checks claim field invariants.
func (c *Claim) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("claim id is required")
	}
	if c.IssueID == "" {
		return fmt.Errorf("issue id is required")
	}
	if c.Claimant.ID == "" {
		return fmt.Errorf("claimant id is required")
	}
	if !c.Claimant.Kind.IsValid() {
		return fmt.Errorf("invalid claimant kind: %s", c.Claimant.Kind)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	if !c.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", c.Priority)
	}
	if c.Progress < 0 || c.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", c.Progress)
	}
	if c.Stealable != nil && c.Stealable.GracePeriodEndsAt.Before(c.Stealable.MarkedAt) {
		return fmt.Errorf("stealable grace period ends before it was marked")
	}
	return nil
}

// IssueRef is the projection of the external issue catalogue that the
// coordinator reads. The full issue lives elsewhere.
type IssueRef struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	Repository   string   `json:"repository,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"` // required worker capabilities
}

// LoadSample is a derived per-claimant load reading. It is never stored in
// the event log; the load index recomputes it from the claim store.
type LoadSample struct {
	ClaimantID      string  `json:"claimant_id"`
	ActiveClaims    int     `json:"active_claims"`
	PausedClaims    int     `json:"paused_claims"`
	CompletedClaims int     `json:"completed_claims"`
	MaxClaims       int     `json:"max_claims"`
	LoadPercentage  float64 `json:"load_percentage"`
	Overloaded      bool    `json:"overloaded"`
	Underloaded     bool    `json:"underloaded"`
}

// IssueFilter narrows available-issue queries.
type IssueFilter struct {
	Priority   *Priority
	Labels     []string // issue must carry ALL of these
	Repository string
	Limit      int
	Offset     int
}

// ClaimFilter narrows claim list queries.
type ClaimFilter struct {
	ClaimantID string
	Status     *ClaimStatus
	Limit      int
	Offset     int
}
