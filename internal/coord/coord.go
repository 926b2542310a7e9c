// Package coord is the coordinator core: the claim lifecycle state machine,
// work stealing with contest windows, load-aware rebalancing, and the timer
// sweeps that drive time-dependent transitions.
//
// Mutations for an issue are serialized by a per-issue lock. The critical
// section covers the projection read, the event append (which assigns the
// version), and the projection write, so no observer can see the event log
// and the live projection diverge. Bus delivery happens after the lock is
// released.
package coord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/swarmhq/claimd/internal/clock"
	"github.com/swarmhq/claimd/internal/config"
	"github.com/swarmhq/claimd/internal/eventbus"
	"github.com/swarmhq/claimd/internal/eventlog"
	"github.com/swarmhq/claimd/internal/idgen"
	"github.com/swarmhq/claimd/internal/load"
	"github.com/swarmhq/claimd/internal/store"
	"github.com/swarmhq/claimd/internal/types"
)

// Coordinator wires the claim store, event log, load index, and event bus
// behind the operation surface.
type Coordinator struct {
	store     *store.ClaimStore
	issues    *store.IssueDirectory
	claimants *store.ClaimantRegistry
	log       *eventlog.Log
	loads     *load.Index
	bus       *eventbus.Bus
	clk       clock.Clock
	ids       *idgen.Generator
	nonce     atomic.Int64

	cfgMu sync.RWMutex
	cfg   config.Config

	locks         keyedLocks
	claimantLocks keyedLocks

	rebalanceMu   sync.Mutex
	lastRebalance time.Time
	rrCursor      int
}

// New creates a coordinator with the given configuration and clock. Pass
// clock.Wall{} outside of tests.
func New(cfg config.Config, clk clock.Clock) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		store:     store.NewClaimStore(),
		issues:    store.NewIssueDirectory(),
		claimants: store.NewClaimantRegistry(cfg.MaxClaimsPerAgent),
		log:       eventlog.New(),
		bus:       eventbus.New(),
		clk:       clk,
		ids:       &idgen.Generator{NowFn: clk.Now},
		cfg:       cfg,
	}
	c.loads = load.NewIndex(load.Thresholds{
		OverloadedPercent:  cfg.OverloadedPercent,
		UnderloadedPercent: cfg.UnderloadedPercent,
	}, c.maxClaimsFor)
	return c, nil
}

// Issues exposes the issue directory for catalogue feeds.
func (c *Coordinator) Issues() *store.IssueDirectory { return c.issues }

// Claimants exposes the claimant registry.
func (c *Coordinator) Claimants() *store.ClaimantRegistry { return c.claimants }

// Bus exposes the event bus for subscribers.
func (c *Coordinator) Bus() *eventbus.Bus { return c.bus }

// Log exposes the event log for read-only history queries.
func (c *Coordinator) Log() *eventlog.Log { return c.log }

// Close shuts down bus delivery.
func (c *Coordinator) Close() { c.bus.Close() }

// Now reads the coordinator's clock.
func (c *Coordinator) Now() time.Time { return c.clk.Now() }

// Config returns a copy of the live configuration.
func (c *Coordinator) Config() config.Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// UpdateConfig merges key/value updates into the live configuration and
// propagates the pieces other components cache.
func (c *Coordinator) UpdateConfig(updates map[string]any) (config.Config, error) {
	c.cfgMu.Lock()
	next, err := c.cfg.ApplyUpdates(updates)
	if err != nil {
		c.cfgMu.Unlock()
		return config.Config{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	c.cfg = next
	c.cfgMu.Unlock()

	c.claimants.SetDefaultMax(next.MaxClaimsPerAgent)
	c.loads.SetThresholds(load.Thresholds{
		OverloadedPercent:  next.OverloadedPercent,
		UnderloadedPercent: next.UnderloadedPercent,
	})
	return next, nil
}

// ReplaceConfig swaps in a complete configuration (config file reloads).
func (c *Coordinator) ReplaceConfig(next config.Config) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	c.cfgMu.Lock()
	c.cfg = next
	c.cfgMu.Unlock()

	c.claimants.SetDefaultMax(next.MaxClaimsPerAgent)
	c.loads.SetThresholds(load.Thresholds{
		OverloadedPercent:  next.OverloadedPercent,
		UnderloadedPercent: next.UnderloadedPercent,
	})
	return nil
}

func (c *Coordinator) maxClaimsFor(claimantID string) int {
	return c.claimants.Resolve(claimantID, types.KindAgent).MaxConcurrentClaims
}

// liveCount returns the claimant's current non-terminal claim count.
func (c *Coordinator) liveCount(claimantID string) int {
	_, total := c.store.ListByClaimant(types.ClaimFilter{ClaimantID: claimantID})
	return total
}

// keyedLocks hands out one mutex per key. Entries are never reaped; the map
// is bounded by the number of issues and claimants the coordinator has seen.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *keyedLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// lockIssue serializes mutations for one issue. The returned func releases
// the lock. ctx is checked after acquisition: past the deadline the caller
// gets ErrTimeout and must emit nothing; once inside the critical section
// operations run to completion.
func (c *Coordinator) lockIssue(ctx context.Context, issueID string) (func(), error) {
	m := c.locks.get(issueID)
	m.Lock()
	if ctx.Err() != nil {
		m.Unlock()
		return nil, ErrTimeout
	}
	return m.Unlock, nil
}

// lockClaimant serializes claim admission for one claimant, so the cap check
// and the claim install are atomic with respect to claims on other issues.
// Acquire after the issue lock(s); never hold two claimant locks at once.
func (c *Coordinator) lockClaimant(claimantID string) func() {
	m := c.claimantLocks.get(claimantID)
	m.Lock()
	return m.Unlock
}

// newEvent builds an unversioned event; the log assigns the version on append.
func (c *Coordinator) newEvent(t types.EventType, aggregateID, correlationID string, p types.EventPayload) *types.Event {
	return &types.Event{
		Type:          t,
		AggregateID:   aggregateID,
		Timestamp:     c.clk.Now(),
		CorrelationID: correlationID,
		Payload:       p,
	}
}

// mutate appends a claim event and applies the same payload to the live
// projection. Sharing the Apply code with replay is what keeps the
// projection a pure function of the stream.
func (c *Coordinator) mutate(claim *types.Claim, t types.EventType, correlationID string, p types.ClaimMutation) (*types.Event, error) {
	ev := c.newEvent(t, claim.ID, correlationID, p)
	if err := c.log.Append(claim.IssueID, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	p.Apply(claim)
	if err := c.store.Put(claim); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return ev, nil
}

// publish hands events to the bus. Call after releasing the issue lock.
func (c *Coordinator) publish(events ...*types.Event) {
	for _, ev := range events {
		if ev != nil {
			c.bus.Publish(ev)
		}
	}
}

func correlation() string { return "op-" + uuid.NewString() }

func (c *Coordinator) newClaimID(issueID, claimantID string) string {
	return c.ids.ClaimID(issueID, claimantID, int(c.nonce.Add(1)))
}

func (c *Coordinator) newContestID(issueID, contesterID string) string {
	return c.ids.ContestID(issueID, contesterID, int(c.nonce.Add(1)))
}

func (c *Coordinator) newHandoffID(issueID, fromID string) string {
	return c.ids.HandoffID(issueID, fromID, int(c.nonce.Add(1)))
}
