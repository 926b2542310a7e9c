// Package eventlog provides the append-only, per-aggregate versioned event
// store. The live claim projection must be rebuildable from this log alone.
package eventlog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmhq/claimd/internal/types"
)

// ErrVersionConflict indicates two events competed for the same
// (aggregate, version) slot. This is an internal invariant violation, not a
// retry condition; the append is rejected without mutating the log.
var ErrVersionConflict = errors.New("event version conflict")

// Log is the append-only event store.
//
// Append assigns ids, timestamps missing timestamps, and versions events
// atomically. Callers serialize appends for a given aggregate through the
// coordinator's per-issue critical section; the log's own lock only protects
// its internal indexes.
type Log struct {
	mu       sync.RWMutex
	all      []*types.Event
	issueIDs []string // issue association per event, aligned with all
	byAgg    map[string][]*types.Event
	byIssue  map[string][]*types.Event
	versions map[string]int64
}

// Entry pairs an event with the issue it is indexed under, for export and
// import. IssueID is empty for swarm-level events.
type Entry struct {
	IssueID string       `json:"issue_id,omitempty"`
	Event   *types.Event `json:"event"`
}

// New creates an empty log.
func New() *Log {
	return &Log{
		byAgg:    make(map[string][]*types.Event),
		byIssue:  make(map[string][]*types.Event),
		versions: make(map[string]int64),
	}
}

// Append assigns the next version for the event's aggregate and stores the
// event. issueID associates the event with an issue for ByIssue queries and
// may be empty for swarm-level events. The event's Version field, if set,
// must equal the next expected version; otherwise ErrVersionConflict is
// returned and nothing is stored.
func (l *Log) Append(issueID string, e *types.Event) error {
	if e == nil {
		return fmt.Errorf("eventlog: nil event")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("eventlog: invalid event type %q", e.Type)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("eventlog: missing aggregate id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.versions[e.AggregateID] + 1
	if e.Version != 0 && e.Version != next {
		return fmt.Errorf("%w: aggregate %s expected version %d, got %d",
			ErrVersionConflict, e.AggregateID, next, e.Version)
	}
	e.Version = next
	if e.ID == "" {
		e.ID = "ev-" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.versions[e.AggregateID] = next
	l.all = append(l.all, e)
	l.issueIDs = append(l.issueIDs, issueID)
	l.byAgg[e.AggregateID] = append(l.byAgg[e.AggregateID], e)
	if issueID != "" {
		l.byIssue[issueID] = append(l.byIssue[issueID], e)
	}
	return nil
}

// Stream returns the ordered events for an aggregate starting at fromVersion
// (inclusive; pass 0 or 1 for the full stream).
func (l *Log) Stream(aggregateID string, fromVersion int64) []*types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.byAgg[aggregateID]
	if fromVersion <= 1 {
		return append([]*types.Event(nil), events...)
	}
	var out []*types.Event
	for _, e := range events {
		if e.Version >= fromVersion {
			out = append(out, e)
		}
	}
	return out
}

// ByType returns events of the given type in append order, newest last.
// A zero range returns everything.
func (l *Log) ByType(t types.EventType, from, to time.Time) []*types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*types.Event
	for _, e := range l.all {
		if e.Type != t {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ByIssue returns all events associated with an issue in append order,
// across every claim that issue has had.
func (l *Log) ByIssue(issueID string) []*types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*types.Event(nil), l.byIssue[issueID]...)
}

// All returns every event in global append order.
func (l *Log) All() []*types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*types.Event(nil), l.all...)
}

// Version returns the current version for an aggregate (0 if none).
func (l *Log) Version(aggregateID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.versions[aggregateID]
}

// Export returns every event with its issue association in global append
// order, for snapshotting.
func (l *Log) Export() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.all))
	for i, e := range l.all {
		out[i] = Entry{IssueID: l.issueIDs[i], Event: e}
	}
	return out
}

// Import appends exported entries in order. Entries carry their original
// versions, so importing into a log that already has events for the same
// aggregates fails with ErrVersionConflict.
func (l *Log) Import(entries []Entry) error {
	for _, entry := range entries {
		if err := l.Append(entry.IssueID, entry.Event); err != nil {
			return err
		}
	}
	return nil
}
