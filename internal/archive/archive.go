// Package archive persists coordinator snapshots. The snapshot carries the
// full event log plus the issue and claimant registries; the live claim
// projection is not stored because it replays from the log.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/swarmhq/claimd/internal/eventlog"
	"github.com/swarmhq/claimd/internal/types"
)

// ErrNoSnapshot is returned by Load when the backend holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is one point-in-time export of coordinator state.
type Snapshot struct {
	SavedAt   time.Time        `json:"saved_at"`
	Issues    []types.IssueRef `json:"issues,omitempty"`
	Claimants []types.Claimant `json:"claimants,omitempty"`
	Events    []eventlog.Entry `json:"events"`
}

// Archive stores and retrieves snapshots. Implementations keep at most one
// snapshot; Save overwrites.
type Archive interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}
