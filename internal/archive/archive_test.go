package archive

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/eventlog"
	"github.com/swarmhq/claimd/internal/types"
)

func sampleSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claim := types.Claim{
		ID:      "cl-1",
		IssueID: "i-1",
		Claimant: types.Claimant{
			ID: "a-1", Kind: types.KindAgent, AgentType: "coder", MaxConcurrentClaims: 5,
		},
		Status:         types.StatusActive,
		Priority:       types.PriorityHigh,
		ClaimedAt:      now,
		LastActivityAt: now,
		StatusHistory:  []types.StatusChange{{To: types.StatusActive, ChangedAt: now}},
	}
	return &Snapshot{
		SavedAt:   now,
		Issues:    []types.IssueRef{{ID: "i-1", Title: "i-1", Priority: types.PriorityHigh}},
		Claimants: []types.Claimant{claim.Claimant},
		Events: []eventlog.Entry{
			{IssueID: "i-1", Event: &types.Event{
				ID: "ev-1", Version: 1, Type: types.EventClaimCreated,
				AggregateID: "cl-1", Timestamp: now,
				Payload: types.ClaimCreatedPayload{Claim: claim, Cause: types.CauseClaim},
			}},
			{IssueID: "i-1", Event: &types.Event{
				ID: "ev-2", Version: 2, Type: types.EventClaimProgressUpdated,
				AggregateID: "cl-1", Timestamp: now.Add(time.Minute),
				Payload: types.ProgressUpdatedPayload{Progress: 40, UpdatedAt: now.Add(time.Minute)},
			}},
		},
	}
}

// assertRoundTrip checks the snapshot survives the backend with typed
// payloads intact and still replays.
func assertRoundTrip(t *testing.T, a Archive) {
	t.Helper()
	ctx := context.Background()

	_, err := a.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	want := sampleSnapshot(t)
	require.NoError(t, a.Save(ctx, want))

	got, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.SavedAt, got.SavedAt)
	assert.Equal(t, want.Issues, got.Issues)
	assert.Equal(t, want.Claimants, got.Claimants)
	require.Len(t, got.Events, 2)
	assert.Equal(t, want.Events[0].Event, got.Events[0].Event)

	var stream []*types.Event
	for _, entry := range got.Events {
		stream = append(stream, entry.Event)
	}
	claim, err := eventlog.Replay(stream)
	require.NoError(t, err)
	assert.Equal(t, 40, claim.Progress)
	assert.Equal(t, types.StatusActive, claim.Status)
}

func TestMemoryRoundTrip(t *testing.T) {
	assertRoundTrip(t, NewMemory())
}

func TestRedisRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	a, err := NewRedis(context.Background(), srv.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assertRoundTrip(t, a)
}

func TestRedisSaveOverwrites(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()
	a, err := NewRedis(ctx, srv.Addr(), "test:snap")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	first := sampleSnapshot(t)
	require.NoError(t, a.Save(ctx, first))

	second := sampleSnapshot(t)
	second.SavedAt = first.SavedAt.Add(time.Hour)
	require.NoError(t, a.Save(ctx, second))

	got, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.SavedAt, got.SavedAt)
}

func TestRedisConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedis(ctx, "127.0.0.1:1", "")
	assert.Error(t, err)
}
