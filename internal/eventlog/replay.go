package eventlog

import (
	"fmt"

	"github.com/swarmhq/claimd/internal/types"
)

// Replay folds an ordered claim event stream into the claim it describes.
// The first event must be claim:created; subsequent events must be claim
// mutations with consecutive versions. The result is the same state the
// live projection holds, because mutation and replay share the payload
// Apply code.
func Replay(events []*types.Event) (*types.Claim, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("eventlog: empty stream")
	}

	first := events[0]
	created, ok := first.Payload.(types.ClaimCreatedPayload)
	if !ok {
		return nil, fmt.Errorf("eventlog: stream starts with %s, want %s",
			first.Type, types.EventClaimCreated)
	}

	var claim types.Claim
	created.Apply(&claim)

	prev := first.Version
	for _, e := range events[1:] {
		if e.Version != prev+1 {
			return nil, fmt.Errorf("eventlog: version gap in %s: %d after %d",
				e.AggregateID, e.Version, prev)
		}
		prev = e.Version

		mut, ok := e.Payload.(types.ClaimMutation)
		if !ok {
			return nil, fmt.Errorf("eventlog: event %s (%s) is not a claim mutation",
				e.ID, e.Type)
		}
		mut.Apply(&claim)
	}
	return &claim, nil
}
