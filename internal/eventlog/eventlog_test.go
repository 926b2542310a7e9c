package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/types"
)

func testClaim(id string, now time.Time) types.Claim {
	return types.Claim{
		ID:        id,
		IssueID:   "issue-1",
		Claimant:  types.Claimant{ID: "agent-1", Kind: types.KindAgent},
		Status:    types.StatusActive,
		Priority:  types.PriorityMedium,
		ClaimedAt: now, LastActivityAt: now,
		StatusHistory: []types.StatusChange{{To: types.StatusActive, ChangedAt: now}},
	}
}

func TestAppendAssignsConsecutiveVersions(t *testing.T) {
	log := New()
	now := time.Now()

	for i := 0; i < 5; i++ {
		e := &types.Event{
			Type:        types.EventClaimNoteAdded,
			AggregateID: "cl-a",
			Payload: types.NoteAddedPayload{
				Note: types.Note{Author: "a", Text: "n", CreatedAt: now},
			},
		}
		require.NoError(t, log.Append("issue-1", e))
		assert.Equal(t, int64(i+1), e.Version)
		assert.NotEmpty(t, e.ID)
	}

	stream := log.Stream("cl-a", 0)
	require.Len(t, stream, 5)
	for i, e := range stream {
		assert.Equal(t, int64(i+1), e.Version, "no gaps, strictly increasing")
	}
}

func TestAppendVersionConflict(t *testing.T) {
	log := New()
	e1 := &types.Event{
		Type:        types.EventClaimProgressUpdated,
		AggregateID: "cl-a",
		Payload:     types.ProgressUpdatedPayload{Progress: 10},
	}
	require.NoError(t, log.Append("issue-1", e1))

	// A stale writer presenting version 1 again must be rejected without
	// mutating the log.
	e2 := &types.Event{
		Type:        types.EventClaimProgressUpdated,
		AggregateID: "cl-a",
		Version:     1,
		Payload:     types.ProgressUpdatedPayload{Progress: 20},
	}
	err := log.Append("issue-1", e2)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.Len(t, log.Stream("cl-a", 0), 1)
	assert.Equal(t, int64(1), log.Version("cl-a"))
}

func TestVersionsIndependentPerAggregate(t *testing.T) {
	log := New()
	for _, agg := range []string{"cl-a", "cl-b", "cl-a"} {
		e := &types.Event{
			Type:        types.EventClaimProgressUpdated,
			AggregateID: agg,
			Payload:     types.ProgressUpdatedPayload{Progress: 1},
		}
		require.NoError(t, log.Append("issue-1", e))
	}
	assert.Equal(t, int64(2), log.Version("cl-a"))
	assert.Equal(t, int64(1), log.Version("cl-b"))
}

func TestByTypeAndByIssue(t *testing.T) {
	log := New()
	now := time.Now()

	created := &types.Event{
		Type:        types.EventClaimCreated,
		AggregateID: "cl-a",
		Payload:     types.ClaimCreatedPayload{Claim: testClaim("cl-a", now), Cause: types.CauseClaim},
	}
	require.NoError(t, log.Append("issue-1", created))

	note := &types.Event{
		Type:        types.EventClaimNoteAdded,
		AggregateID: "cl-a",
		Payload:     types.NoteAddedPayload{Note: types.Note{Author: "a", Text: "x", CreatedAt: now}},
	}
	require.NoError(t, log.Append("issue-1", note))

	other := &types.Event{
		Type:        types.EventClaimCreated,
		AggregateID: "cl-b",
		Payload:     types.ClaimCreatedPayload{Claim: testClaim("cl-b", now), Cause: types.CauseClaim},
	}
	require.NoError(t, log.Append("issue-2", other))

	assert.Len(t, log.ByType(types.EventClaimCreated, time.Time{}, time.Time{}), 2)
	assert.Len(t, log.ByIssue("issue-1"), 2)
	assert.Len(t, log.ByIssue("issue-2"), 1)
	assert.Empty(t, log.ByIssue("issue-3"))
}

func TestReplayRebuildsClaim(t *testing.T) {
	log := New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	initial := testClaim("cl-a", now)
	events := []*types.Event{
		{Type: types.EventClaimCreated, AggregateID: "cl-a",
			Payload: types.ClaimCreatedPayload{Claim: initial, Cause: types.CauseClaim}},
		{Type: types.EventClaimProgressUpdated, AggregateID: "cl-a",
			Payload: types.ProgressUpdatedPayload{Progress: 40, UpdatedAt: now.Add(time.Minute)}},
		{Type: types.EventClaimStatusChanged, AggregateID: "cl-a",
			Payload: types.StatusChangedPayload{
				From: types.StatusActive, To: types.StatusPaused,
				Note: "break", ChangedAt: now.Add(2 * time.Minute)}},
	}
	for _, e := range events {
		require.NoError(t, log.Append("issue-1", e))
	}

	claim, err := Replay(log.Stream("cl-a", 0))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, claim.Status)
	assert.Equal(t, 40, claim.Progress)
	require.Len(t, claim.StatusHistory, 2)
	assert.Equal(t, types.StatusPaused, claim.StatusHistory[1].To)
	assert.Equal(t, now.Add(2*time.Minute), claim.LastActivityAt)
}

func TestReplayRejectsGapsAndBadStreams(t *testing.T) {
	now := time.Now()
	_, err := Replay(nil)
	assert.Error(t, err, "empty stream")

	_, err = Replay([]*types.Event{
		{Type: types.EventClaimProgressUpdated, AggregateID: "cl-a", Version: 1,
			Payload: types.ProgressUpdatedPayload{Progress: 10}},
	})
	assert.Error(t, err, "stream must start with claim:created")

	_, err = Replay([]*types.Event{
		{Type: types.EventClaimCreated, AggregateID: "cl-a", Version: 1,
			Payload: types.ClaimCreatedPayload{Claim: testClaim("cl-a", now)}},
		{Type: types.EventClaimProgressUpdated, AggregateID: "cl-a", Version: 3,
			Payload: types.ProgressUpdatedPayload{Progress: 10}},
	})
	assert.Error(t, err, "version gap")
}
