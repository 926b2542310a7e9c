package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusIsTerminal(t *testing.T) {
	terminal := []ClaimStatus{StatusCompleted, StatusReleased, StatusExpired, StatusStolen}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	live := []ClaimStatus{StatusActive, StatusPaused, StatusBlocked,
		StatusHandoffPending, StatusReviewRequested, StatusStealable}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ClaimStatus
		want     bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusStolen, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusReviewRequested, false},
		{StatusBlocked, StatusStealable, true},
		{StatusHandoffPending, StatusPaused, false},
		{StatusReviewRequested, StatusBlocked, true},
		{StatusStealable, StatusStolen, true},
		{StatusStealable, StatusReleased, false},
		{StatusCompleted, StatusActive, false},
		{StatusReleased, StatusActive, false},
		{StatusExpired, StatusActive, false},
		{StatusStolen, StatusActive, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	all := []ClaimStatus{StatusActive, StatusPaused, StatusBlocked,
		StatusHandoffPending, StatusReviewRequested, StatusStealable,
		StatusCompleted, StatusReleased, StatusExpired, StatusStolen}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal status %s has outgoing transition to %s", from, to)
			}
		}
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	if !(PriorityCritical.Rank() < PriorityHigh.Rank() &&
		PriorityHigh.Rank() < PriorityMedium.Rank() &&
		PriorityMedium.Rank() < PriorityLow.Rank()) {
		t.Error("priority ranks are not ordered critical < high < medium < low")
	}
}

func TestClaimValidate(t *testing.T) {
	now := time.Now()
	valid := Claim{
		ID:        "cl-abc",
		IssueID:   "issue-1",
		Claimant:  Claimant{ID: "agent-1", Kind: KindAgent},
		Status:    StatusActive,
		Priority:  PriorityMedium,
		ClaimedAt: now, LastActivityAt: now,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid claim failed validation: %v", err)
	}

	bad := valid
	bad.Progress = 101
	if err := bad.Validate(); err == nil {
		t.Error("expected validation failure for progress > 100")
	}

	bad = valid
	bad.Priority = "urgent"
	if err := bad.Validate(); err == nil {
		t.Error("expected validation failure for unknown priority")
	}

	bad = valid
	bad.Stealable = &StealableInfo{
		Reason:            StealReasonManual,
		MarkedAt:          now,
		GracePeriodEndsAt: now.Add(-time.Minute),
	}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation failure for grace period before marked-at")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := Event{
		ID:          "ev-1",
		Version:     3,
		Type:        EventClaimStatusChanged,
		AggregateID: "cl-abc",
		Timestamp:   now,
		Payload: StatusChangedPayload{
			From: StatusActive, To: StatusPaused, Note: "lunch", ChangedAt: now,
		},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := back.Payload.(StatusChangedPayload)
	if !ok {
		t.Fatalf("payload type lost in round trip: %T", back.Payload)
	}
	if p.To != StatusPaused || p.Note != "lunch" {
		t.Errorf("payload fields lost: %+v", p)
	}
	if back.Version != 3 || back.AggregateID != "cl-abc" {
		t.Errorf("envelope fields lost: %+v", back)
	}
}

func TestEventUnmarshalUnknownType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"type":"bogus:event","aggregate_id":"x"}`), &ev)
	if err == nil {
		t.Error("expected error for unknown event type")
	}
}
