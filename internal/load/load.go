// Package load maintains per-claimant load counters derived from the claim
// store. The index is incremental; it is deliberately not event-sourced and
// must always be rebuildable by recounting the store.
package load

import (
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/swarmhq/claimd/internal/types"
)

// Thresholds classify a claimant's load percentage.
type Thresholds struct {
	OverloadedPercent  int
	UnderloadedPercent int
}

// MaxResolver supplies the concurrency cap for a claimant.
type MaxResolver func(claimantID string) int

// Index tracks active/paused/completed counts per claimant.
type Index struct {
	mu         sync.RWMutex
	counters   map[string]*counters
	thresholds Thresholds
	maxFor     MaxResolver

	recount singleflight.Group
}

type counters struct {
	active    int // non-terminal claims
	paused    int
	completed int
}

// NewIndex creates an index. maxFor resolves each claimant's cap at sample
// time so registry updates take effect immediately.
func NewIndex(thresholds Thresholds, maxFor MaxResolver) *Index {
	return &Index{
		counters:   make(map[string]*counters),
		thresholds: thresholds,
		maxFor:     maxFor,
	}
}

// SetThresholds swaps the classification thresholds (config updates).
func (i *Index) SetThresholds(t Thresholds) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.thresholds = t
}

// OnTransition updates the counters for a claim status change. An empty
// from means the claim was just opened.
func (i *Index) OnTransition(claimantID string, from, to types.ClaimStatus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c := i.counterLocked(claimantID)

	if from == "" {
		c.active++
	}
	if from == types.StatusPaused {
		c.paused--
	}
	if to == types.StatusPaused {
		c.paused++
	}
	if to == types.StatusCompleted {
		c.completed++
	}
	if from != "" && !from.IsTerminal() && to.IsTerminal() {
		c.active--
		if c.active < 0 {
			c.active = 0
		}
	}
}

func (i *Index) counterLocked(claimantID string) *counters {
	c, ok := i.counters[claimantID]
	if !ok {
		c = &counters{}
		i.counters[claimantID] = c
	}
	return c
}

// Sample returns the current load reading for a claimant.
func (i *Index) Sample(claimantID string) types.LoadSample {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.sampleLocked(claimantID)
}

func (i *Index) sampleLocked(claimantID string) types.LoadSample {
	c := i.counters[claimantID]
	if c == nil {
		c = &counters{}
	}
	max := i.maxFor(claimantID)
	if max < 1 {
		max = 1
	}
	pct := float64(c.active) / float64(max) * 100
	return types.LoadSample{
		ClaimantID:      claimantID,
		ActiveClaims:    c.active,
		PausedClaims:    c.paused,
		CompletedClaims: c.completed,
		MaxClaims:       max,
		LoadPercentage:  pct,
		Overloaded:      pct >= float64(i.thresholds.OverloadedPercent),
		Underloaded:     pct <= float64(i.thresholds.UnderloadedPercent),
	}
}

// Snapshot returns samples for every known claimant.
func (i *Index) Snapshot() map[string]types.LoadSample {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]types.LoadSample, len(i.counters))
	for id := range i.counters {
		out[id] = i.sampleLocked(id)
	}
	return out
}

// Overloaded returns claimant ids at or above the overloaded threshold,
// sorted by load descending.
func (i *Index) Overloaded() []string {
	return i.classified(func(s types.LoadSample) bool { return s.Overloaded })
}

// Underloaded returns claimant ids at or below the underloaded threshold,
// sorted by load ascending.
func (i *Index) Underloaded() []string {
	ids := i.classified(func(s types.LoadSample) bool { return s.Underloaded })
	// classified sorts descending; reverse for least-loaded-first.
	for l, r := 0, len(ids)-1; l < r; l, r = l+1, r-1 {
		ids[l], ids[r] = ids[r], ids[l]
	}
	return ids
}

func (i *Index) classified(match func(types.LoadSample) bool) []string {
	snap := i.Snapshot()
	var out []string
	for id, s := range snap {
		if match(s) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if snap[out[a]].LoadPercentage != snap[out[b]].LoadPercentage {
			return snap[out[a]].LoadPercentage > snap[out[b]].LoadPercentage
		}
		return out[a] < out[b]
	})
	return out
}

// Reconcile compares the incremental active counts against an authoritative
// recount from the claim store and heals any drift. Concurrent calls are
// coalesced. Returns true if a mismatch was found.
func (i *Index) Reconcile(authoritative func() map[string]int) bool {
	v, _, _ := i.recount.Do("reconcile", func() (any, error) {
		counts := authoritative()
		i.mu.Lock()
		defer i.mu.Unlock()

		drifted := false
		for id, want := range counts {
			c := i.counterLocked(id)
			if c.active != want {
				log.Printf("load: active count drift for %s: have %d, store says %d (healing)",
					id, c.active, want)
				c.active = want
				drifted = true
			}
		}
		for id, c := range i.counters {
			if _, ok := counts[id]; !ok && c.active != 0 {
				log.Printf("load: active count drift for %s: have %d, store says 0 (healing)",
					id, c.active)
				c.active = 0
				drifted = true
			}
		}
		return drifted, nil
	})
	return v.(bool)
}
