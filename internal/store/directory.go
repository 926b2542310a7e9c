package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/swarmhq/claimd/internal/types"
)

// ErrUnknownIssue is returned when an operation names an issue the
// directory has never heard of.
var ErrUnknownIssue = errors.New("unknown issue")

// IssueDirectory is the coordinator's view of the external issue catalogue.
// It holds only the fields the core reads; the catalogue itself lives
// elsewhere and feeds this directory.
type IssueDirectory struct {
	mu     sync.RWMutex
	issues map[string]*types.IssueRef
}

// NewIssueDirectory creates an empty directory.
func NewIssueDirectory() *IssueDirectory {
	return &IssueDirectory{issues: make(map[string]*types.IssueRef)}
}

// Register adds or updates an issue projection.
func (d *IssueDirectory) Register(ref types.IssueRef) error {
	if ref.ID == "" {
		return fmt.Errorf("issue id is required")
	}
	if ref.Priority != "" && !ref.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", ref.Priority)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := ref
	d.issues[ref.ID] = &r
	return nil
}

// Get looks up an issue projection.
func (d *IssueDirectory) Get(issueID string) (*types.IssueRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.issues[issueID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIssue, issueID)
	}
	r := *ref
	return &r, nil
}

// List returns issues matching the filter, excluding the given claimed set,
// ordered by priority then id. The returned total counts all matches before
// pagination.
func (d *IssueDirectory) List(filter types.IssueFilter, claimed map[string]bool) ([]*types.IssueRef, int) {
	d.mu.RLock()
	var out []*types.IssueRef
	for _, ref := range d.issues {
		if claimed[ref.ID] {
			continue
		}
		if filter.Priority != nil && ref.Priority != *filter.Priority {
			continue
		}
		if filter.Repository != "" && ref.Repository != filter.Repository {
			continue
		}
		if !hasAllLabels(ref.Labels, filter.Labels) {
			continue
		}
		r := *ref
		out = append(out, &r)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].ID < out[j].ID
	})

	total := len(out)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return nil, total
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total
}

// All returns every registered issue ordered by id.
func (d *IssueDirectory) All() []types.IssueRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.IssueRef, 0, len(d.issues))
	for _, ref := range d.issues {
		out = append(out, *ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasAllLabels(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ClaimantRegistry holds claimant metadata: concurrency caps, agent types,
// capabilities. Callers the registry has never seen get the configured
// default cap.
type ClaimantRegistry struct {
	mu         sync.RWMutex
	claimants  map[string]*types.Claimant
	defaultMax int
}

// NewClaimantRegistry creates a registry with the given default cap for
// unregistered claimants.
func NewClaimantRegistry(defaultMax int) *ClaimantRegistry {
	return &ClaimantRegistry{
		claimants:  make(map[string]*types.Claimant),
		defaultMax: defaultMax,
	}
}

// Register adds or updates a claimant record.
func (r *ClaimantRegistry) Register(c types.Claimant) error {
	if c.ID == "" {
		return fmt.Errorf("claimant id is required")
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("invalid claimant kind: %s", c.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := c
	r.claimants[c.ID] = &cc
	return nil
}

// SetDefaultMax updates the default cap (config changes flow through here).
func (r *ClaimantRegistry) SetDefaultMax(max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultMax = max
}

// Resolve returns the claimant record for an id, filling in kind and the
// default cap for unregistered callers.
func (r *ClaimantRegistry) Resolve(id string, kind types.ClaimantKind) types.Claimant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.claimants[id]; ok {
		out := *c
		if out.MaxConcurrentClaims <= 0 {
			out.MaxConcurrentClaims = r.defaultMax
		}
		return out
	}
	return types.Claimant{ID: id, Kind: kind, MaxConcurrentClaims: r.defaultMax}
}

// All returns every registered claimant.
func (r *ClaimantRegistry) All() []types.Claimant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Claimant, 0, len(r.claimants))
	for _, c := range r.claimants {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
