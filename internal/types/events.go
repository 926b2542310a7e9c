package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies an event in the append-only log.
type EventType string

const (
	// Claim lifecycle events. These aggregate on the claim id and are the
	// authoritative record for rebuilding a claim by replay.
	EventClaimCreated          EventType = "claim:created"
	EventClaimReleased         EventType = "claim:released"
	EventClaimStatusChanged    EventType = "claim:status-changed"
	EventClaimProgressUpdated  EventType = "claim:progress-updated"
	EventClaimNoteAdded        EventType = "claim:note-added"
	EventClaimExpired          EventType = "claim:expired"
	EventClaimHandoffRequested EventType = "claim:handoff-requested"
	EventClaimHandoffAccepted  EventType = "claim:handoff-accepted"
	EventClaimHandoffRejected  EventType = "claim:handoff-rejected"

	// Steal events. Marked-stealable and contest events aggregate on the
	// claim they mutate; issue-stolen aggregates on the issue id and records
	// the ownership transfer itself.
	EventStealMarkedStealable EventType = "steal:issue-marked-stealable"
	EventStealIssueStolen     EventType = "steal:issue-stolen"
	EventStealContestStarted  EventType = "steal:contest-started"
	EventStealContestResolved EventType = "steal:contest-resolved"

	// Swarm events aggregate on the fixed "swarm" aggregate.
	EventSwarmRebalanced EventType = "swarm:rebalanced"
)

// SwarmAggregateID is the aggregate id for swarm-wide events.
const SwarmAggregateID = "swarm"

// IsValid checks if the event type is valid.
func (t EventType) IsValid() bool {
	switch t {
	case EventClaimCreated, EventClaimReleased, EventClaimStatusChanged,
		EventClaimProgressUpdated, EventClaimNoteAdded, EventClaimExpired,
		EventClaimHandoffRequested, EventClaimHandoffAccepted, EventClaimHandoffRejected,
		EventStealMarkedStealable, EventStealIssueStolen,
		EventStealContestStarted, EventStealContestResolved,
		EventSwarmRebalanced:
		return true
	}
	return false
}

// IsClaimEvent returns true if the event type mutates a claim aggregate
// and therefore participates in claim replay.
func (t EventType) IsClaimEvent() bool {
	switch t {
	case EventClaimCreated, EventClaimReleased, EventClaimStatusChanged,
		EventClaimProgressUpdated, EventClaimNoteAdded, EventClaimExpired,
		EventClaimHandoffRequested, EventClaimHandoffAccepted, EventClaimHandoffRejected,
		EventStealMarkedStealable, EventStealContestStarted, EventStealContestResolved:
		return true
	}
	return false
}

// Event is one append-only log entry. Version is assigned by the log,
// strictly increasing per aggregate with no gaps.
type Event struct {
	ID            string       `json:"id"`
	Version       int64        `json:"version"`
	Type          EventType    `json:"type"`
	AggregateID   string       `json:"aggregate_id"`
	Timestamp     time.Time    `json:"timestamp"`
	Payload       EventPayload `json:"payload"`
	CausationID   string       `json:"causation_id,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
}

// EventPayload is the tagged union of event payloads. Claim-aggregate
// payloads additionally implement ClaimMutation; the same Apply code runs
// for live mutation and for replay, which is what keeps the projection a
// pure function of the stream.
type EventPayload interface {
	isEventPayload()
}

// ClaimMutation is implemented by payloads that mutate a claim aggregate.
type ClaimMutation interface {
	EventPayload
	Apply(c *Claim)
}

// CreateCause records how a claim came into being.
type CreateCause string

// Create cause constants
const (
	CauseClaim     CreateCause = "claim"
	CauseSteal     CreateCause = "steal"
	CauseHandoff   CreateCause = "handoff"
	CauseRebalance CreateCause = "rebalancing"
	CauseContest   CreateCause = "contest"
)

// ClaimCreatedPayload carries the complete initial claim.
type ClaimCreatedPayload struct {
	Claim Claim       `json:"claim"`
	Cause CreateCause `json:"cause"`
}

func (ClaimCreatedPayload) isEventPayload() {}

// Apply installs the initial claim state.
func (p ClaimCreatedPayload) Apply(c *Claim) {
	*c = p.Claim
}

// ClaimReleasedPayload records a terminal release.
type ClaimReleasedPayload struct {
	ClaimantID string      `json:"claimant_id"`
	Reason     string      `json:"reason,omitempty"`
	Cause      CreateCause `json:"cause,omitempty"` // handoff, rebalancing, contest, or empty for a plain release
	ReleasedAt time.Time   `json:"released_at"`
}

func (ClaimReleasedPayload) isEventPayload() {}

// Apply moves the claim to released.
func (p ClaimReleasedPayload) Apply(c *Claim) {
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: c.Status, To: StatusReleased, Note: p.Reason, ChangedAt: p.ReleasedAt,
	})
	c.Status = StatusReleased
	c.LastActivityAt = p.ReleasedAt
}

// StatusChangedPayload records a state-machine transition.
type StatusChangedPayload struct {
	From      ClaimStatus `json:"from"`
	To        ClaimStatus `json:"to"`
	Note      string      `json:"note,omitempty"`
	Progress  *int        `json:"progress,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}

func (StatusChangedPayload) isEventPayload() {}

// Apply performs the transition, including the blocked sub-record bookkeeping.
func (p StatusChangedPayload) Apply(c *Claim) {
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: p.From, To: p.To, Note: p.Note, ChangedAt: p.ChangedAt,
	})
	c.Status = p.To
	c.LastActivityAt = p.ChangedAt
	if p.Progress != nil {
		c.Progress = *p.Progress
	}
	switch p.To {
	case StatusBlocked:
		c.Blocked = &BlockedInfo{Reason: p.Note, BlockedAt: p.ChangedAt}
	case StatusActive, StatusPaused:
		c.Blocked = nil
		c.Stealable = nil
	}
}

// ProgressUpdatedPayload records a monotone progress update.
type ProgressUpdatedPayload struct {
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProgressUpdatedPayload) isEventPayload() {}

// Apply sets the new progress value.
func (p ProgressUpdatedPayload) Apply(c *Claim) {
	c.Progress = p.Progress
	c.LastActivityAt = p.UpdatedAt
}

// NoteAddedPayload appends a note.
type NoteAddedPayload struct {
	Note Note `json:"note"`
}

func (NoteAddedPayload) isEventPayload() {}

// Apply appends the note.
func (p NoteAddedPayload) Apply(c *Claim) {
	c.Notes = append(c.Notes, p.Note)
	c.LastActivityAt = p.Note.CreatedAt
}

// ExpiredPayload records a time-driven termination.
type ExpiredPayload struct {
	ExpiredAt time.Time `json:"expired_at"`
}

func (ExpiredPayload) isEventPayload() {}

// Apply moves the claim to expired.
func (p ExpiredPayload) Apply(c *Claim) {
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: c.Status, To: StatusExpired, ChangedAt: p.ExpiredAt,
	})
	c.Status = StatusExpired
	c.LastActivityAt = p.ExpiredAt
}

// HandoffRequestedPayload records a handoff request on the current claim.
type HandoffRequestedPayload struct {
	Handoff     HandoffRequest `json:"handoff"`
	RequestedAt time.Time      `json:"requested_at"`
}

func (HandoffRequestedPayload) isEventPayload() {}

// Apply records the pending handoff and moves the claim to handoff-pending.
func (p HandoffRequestedPayload) Apply(c *Claim) {
	h := p.Handoff
	c.Handoff = &h
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: c.Status, To: StatusHandoffPending,
		Note: string(p.Handoff.Reason), ChangedAt: p.RequestedAt,
	})
	c.Status = StatusHandoffPending
	c.LastActivityAt = p.RequestedAt
}

// HandoffAcceptedPayload closes the handoff on the old claim. The fresh
// claim for the accepting claimant gets its own claim:created event.
type HandoffAcceptedPayload struct {
	HandoffID  string    `json:"handoff_id"`
	AcceptedBy string    `json:"accepted_by"`
	NewClaimID string    `json:"new_claim_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func (HandoffAcceptedPayload) isEventPayload() {}

// Apply releases the old claim with cause handoff.
func (p HandoffAcceptedPayload) Apply(c *Claim) {
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: c.Status, To: StatusReleased,
		Note: "handoff accepted by " + p.AcceptedBy, ChangedAt: p.AcceptedAt,
	})
	c.Status = StatusReleased
	c.LastActivityAt = p.AcceptedAt
}

// HandoffRejectedPayload restores the pre-handoff status.
type HandoffRejectedPayload struct {
	HandoffID      string      `json:"handoff_id"`
	Reason         string      `json:"reason,omitempty"`
	RestoredStatus ClaimStatus `json:"restored_status"`
	RejectedAt     time.Time   `json:"rejected_at"`
}

func (HandoffRejectedPayload) isEventPayload() {}

// Apply clears the handoff and restores the previous status.
func (p HandoffRejectedPayload) Apply(c *Claim) {
	c.Handoff = nil
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: c.Status, To: p.RestoredStatus, Note: p.Reason, ChangedAt: p.RejectedAt,
	})
	c.Status = p.RestoredStatus
	c.LastActivityAt = p.RejectedAt
}

// MarkedStealablePayload records the stealable marking.
type MarkedStealablePayload struct {
	Info     StealableInfo `json:"info"`
	From     ClaimStatus   `json:"from"`
	MarkedAt time.Time     `json:"marked_at"`
}

func (MarkedStealablePayload) isEventPayload() {}

// Apply installs the stealable sub-record and status.
func (p MarkedStealablePayload) Apply(c *Claim) {
	info := p.Info
	c.Stealable = &info
	c.StatusHistory = append(c.StatusHistory, StatusChange{
		From: p.From, To: StatusStealable,
		Note: string(p.Info.Reason), ChangedAt: p.MarkedAt,
	})
	c.Status = StatusStealable
	c.LastActivityAt = p.MarkedAt
}

// IssueStolenPayload records the ownership transfer. It aggregates on the
// issue id, not on either claim.
type IssueStolenPayload struct {
	OldClaimID          string    `json:"old_claim_id"`
	NewClaimID          string    `json:"new_claim_id"`
	PreviousClaimant    string    `json:"previous_claimant"`
	Stealer             string    `json:"stealer"`
	Reason              string    `json:"reason,omitempty"`
	Progress            int       `json:"progress"`
	ContestWindowEndsAt time.Time `json:"contest_window_ends_at"`
	StolenAt            time.Time `json:"stolen_at"`
}

func (IssueStolenPayload) isEventPayload() {}

// ContestStartedPayload records a contest opening on the stealer's claim.
type ContestStartedPayload struct {
	Contest Contest `json:"contest"`
}

func (ContestStartedPayload) isEventPayload() {}

// Apply installs the contest sub-record.
func (p ContestStartedPayload) Apply(c *Claim) {
	ct := p.Contest
	c.Contest = &ct
	c.LastActivityAt = p.Contest.StartedAt
}

// ContestResolvedPayload records the contest outcome on the stealer's claim.
// When the challenger wins, the claim's release and the reinstated claim's
// creation are separate events.
type ContestResolvedPayload struct {
	ContestID  string            `json:"contest_id"`
	Resolution ContestResolution `json:"resolution"`
	ResolvedBy string            `json:"resolved_by"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

func (ContestResolvedPayload) isEventPayload() {}

// Apply records the resolution.
func (p ContestResolvedPayload) Apply(c *Claim) {
	if c.Contest != nil {
		res := p.Resolution
		c.Contest.Resolution = &res
		c.Contest.ResolvedBy = p.ResolvedBy
	}
	c.LastActivityAt = p.ResolvedAt
}

// RebalanceMove is one planned (or applied) claim migration.
type RebalanceMove struct {
	IssueID    string   `json:"issue_id"`
	ClaimID    string   `json:"claim_id"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Priority   Priority `json:"priority"`
	Progress   int      `json:"progress"`
	NewClaimID string   `json:"new_claim_id,omitempty"`
	Applied    bool     `json:"applied"`
	SkipReason string   `json:"skip_reason,omitempty"`
}

// RebalancedPayload records a completed rebalance pass.
type RebalancedPayload struct {
	Strategy     string                `json:"strategy"`
	Before       map[string]LoadSample `json:"before"`
	After        map[string]LoadSample `json:"after"`
	Moves        []RebalanceMove       `json:"moves"`
	RebalancedAt time.Time             `json:"rebalanced_at"`
}

func (RebalancedPayload) isEventPayload() {}

// payloadFor returns a zero payload value for unmarshaling by event type.
func payloadFor(t EventType) (EventPayload, error) {
	switch t {
	case EventClaimCreated:
		return &ClaimCreatedPayload{}, nil
	case EventClaimReleased:
		return &ClaimReleasedPayload{}, nil
	case EventClaimStatusChanged:
		return &StatusChangedPayload{}, nil
	case EventClaimProgressUpdated:
		return &ProgressUpdatedPayload{}, nil
	case EventClaimNoteAdded:
		return &NoteAddedPayload{}, nil
	case EventClaimExpired:
		return &ExpiredPayload{}, nil
	case EventClaimHandoffRequested:
		return &HandoffRequestedPayload{}, nil
	case EventClaimHandoffAccepted:
		return &HandoffAcceptedPayload{}, nil
	case EventClaimHandoffRejected:
		return &HandoffRejectedPayload{}, nil
	case EventStealMarkedStealable:
		return &MarkedStealablePayload{}, nil
	case EventStealIssueStolen:
		return &IssueStolenPayload{}, nil
	case EventStealContestStarted:
		return &ContestStartedPayload{}, nil
	case EventStealContestResolved:
		return &ContestResolvedPayload{}, nil
	case EventSwarmRebalanced:
		return &RebalancedPayload{}, nil
	}
	return nil, fmt.Errorf("unknown event type: %s", t)
}

// eventJSON is the wire form of an Event; Payload round-trips through the
// type discriminator in Type.
type eventJSON struct {
	ID            string          `json:"id"`
	Version       int64           `json:"version"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	CausationID   string          `json:"causation_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventJSON{
		ID: e.ID, Version: e.Version, Type: e.Type, AggregateID: e.AggregateID,
		Timestamp: e.Timestamp, Payload: raw,
		CausationID: e.CausationID, CorrelationID: e.CorrelationID,
	})
}

// UnmarshalJSON implements json.Unmarshaler, reconstructing the typed payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var ej eventJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return err
	}
	payload, err := payloadFor(ej.Type)
	if err != nil {
		return err
	}
	if len(ej.Payload) > 0 {
		if err := json.Unmarshal(ej.Payload, payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ej.Type, err)
		}
	}
	*e = Event{
		ID: ej.ID, Version: ej.Version, Type: ej.Type, AggregateID: ej.AggregateID,
		Timestamp: ej.Timestamp, CausationID: ej.CausationID, CorrelationID: ej.CorrelationID,
	}
	// Store the payload by value so live and replayed events compare equal.
	e.Payload = derefPayload(payload)
	return nil
}

// derefPayload converts the pointer form used during unmarshal back to the
// value form events carry in memory.
func derefPayload(p EventPayload) EventPayload {
	switch v := p.(type) {
	case *ClaimCreatedPayload:
		return *v
	case *ClaimReleasedPayload:
		return *v
	case *StatusChangedPayload:
		return *v
	case *ProgressUpdatedPayload:
		return *v
	case *NoteAddedPayload:
		return *v
	case *ExpiredPayload:
		return *v
	case *HandoffRequestedPayload:
		return *v
	case *HandoffAcceptedPayload:
		return *v
	case *HandoffRejectedPayload:
		return *v
	case *MarkedStealablePayload:
		return *v
	case *IssueStolenPayload:
		return *v
	case *ContestStartedPayload:
		return *v
	case *ContestResolvedPayload:
		return *v
	case *RebalancedPayload:
		return *v
	}
	return p
}
