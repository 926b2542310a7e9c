// Package store keeps the live claim projection: every claim record plus the
// indexes the coordinator queries. The store is volatile; the event log is
// the durable record and the projection can be rebuilt from it.
//
// The store enforces exactly one structural invariant itself: at most one
// non-terminal claim per issue. Everything else (legal transitions, grace
// periods, ownership) is the coordinator's business.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/swarmhq/claimd/internal/types"
)

// ErrAlreadyClaimed is returned when attempting to open a claim on an issue
// that already has a non-terminal claim. The error message names the holder.
var ErrAlreadyClaimed = errors.New("issue already claimed")

// ErrNotFound is returned when a requested claim does not exist.
var ErrNotFound = errors.New("claim not found")

// ErrConflict is returned when a replace or close lost a race: the issue
// index no longer points at the claim the caller observed.
var ErrConflict = errors.New("claim index conflict")

// ClaimStore is the indexed projection of all claims, live and terminal.
// Individual operations are linearizable; multi-step sequences are
// serialized by the coordinator's per-issue locks.
type ClaimStore struct {
	mu sync.RWMutex

	claims     map[string]*types.Claim        // claim id -> record
	byIssue    map[string]string              // issue id -> non-terminal claim id
	byClaimant map[string]map[string]struct{} // claimant id -> non-terminal claim ids
	byStatus   map[types.ClaimStatus]map[string]struct{}
	stealable  map[string]struct{} // claim ids currently stealable
	contested  map[string]struct{} // claim ids with an open contest
}

// NewClaimStore creates an empty store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{
		claims:     make(map[string]*types.Claim),
		byIssue:    make(map[string]string),
		byClaimant: make(map[string]map[string]struct{}),
		byStatus:   make(map[types.ClaimStatus]map[string]struct{}),
		stealable:  make(map[string]struct{}),
		contested:  make(map[string]struct{}),
	}
}

// Get returns a copy of the claim with the given id.
func (s *ClaimStore) Get(claimID string) (*types.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, claimID)
	}
	return c.Clone(), nil
}

// ActiveByIssue returns the non-terminal claim for an issue, if any.
func (s *ClaimStore) ActiveByIssue(issueID string) (*types.Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIssue[issueID]
	if !ok {
		return nil, false
	}
	return s.claims[id].Clone(), true
}

// TryOpenClaim atomically installs the issue -> claim index only if no
// non-terminal claim exists for the issue. Returns ErrAlreadyClaimed
// naming the current holder otherwise.
func (s *ClaimStore) TryOpenClaim(claim *types.Claim) error {
	if err := claim.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byIssue[claim.IssueID]; ok {
		holder := s.claims[existingID].Claimant.ID
		return fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, claim.IssueID, holder)
	}
	s.insertLocked(claim.Clone())
	return nil
}

// ReplaceClaim swaps the issue index from oldClaim to newClaim in one step
// and writes both records: the terminated predecessor and the fresh claim.
// Returns ErrConflict if the index no longer points at oldClaim (lost race).
func (s *ClaimStore) ReplaceClaim(issueID string, oldClaim, newClaim *types.Claim) error {
	if !oldClaim.Status.IsTerminal() {
		return fmt.Errorf("replace: predecessor %s must be terminal, is %s", oldClaim.ID, oldClaim.Status)
	}
	if err := newClaim.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byIssue[issueID]
	if !ok || current != oldClaim.ID {
		return fmt.Errorf("%w: issue %s no longer held by claim %s", ErrConflict, issueID, oldClaim.ID)
	}
	s.removeFromIndexesLocked(s.claims[oldClaim.ID])
	s.claims[oldClaim.ID] = oldClaim.Clone()
	s.indexStatusLocked(oldClaim.ID, oldClaim.Status)
	delete(s.byIssue, issueID)

	s.insertLocked(newClaim.Clone())
	return nil
}

// Put updates an existing claim record and all indexes. If the claim moved
// to a terminal status, the issue index entry is removed; the record stays
// for history.
func (s *ClaimStore) Put(claim *types.Claim) error {
	if err := claim.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.claims[claim.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, claim.ID)
	}
	s.removeFromIndexesLocked(prev)
	c := claim.Clone()
	s.claims[c.ID] = c

	if c.Status.IsTerminal() {
		if s.byIssue[c.IssueID] == c.ID {
			delete(s.byIssue, c.IssueID)
		}
		s.indexStatusLocked(c.ID, c.Status)
		return nil
	}
	s.indexLiveLocked(c)
	return nil
}

// Install writes a claim record during projection rebuild. Live claims take
// the issue index slot, so installing a second live claim for an issue
// returns ErrAlreadyClaimed; terminal claims are stored as history.
func (s *ClaimStore) Install(claim *types.Claim) error {
	if err := claim.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if claim.Status.IsTerminal() {
		c := claim.Clone()
		s.claims[c.ID] = c
		s.indexStatusLocked(c.ID, c.Status)
		return nil
	}
	if existingID, ok := s.byIssue[claim.IssueID]; ok {
		holder := s.claims[existingID].Claimant.ID
		return fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, claim.IssueID, holder)
	}
	s.insertLocked(claim.Clone())
	return nil
}

// insertLocked installs a brand-new non-terminal claim.
func (s *ClaimStore) insertLocked(c *types.Claim) {
	s.claims[c.ID] = c
	s.byIssue[c.IssueID] = c.ID
	s.indexLiveLocked(c)
}

func (s *ClaimStore) indexLiveLocked(c *types.Claim) {
	set, ok := s.byClaimant[c.Claimant.ID]
	if !ok {
		set = make(map[string]struct{})
		s.byClaimant[c.Claimant.ID] = set
	}
	set[c.ID] = struct{}{}
	s.indexStatusLocked(c.ID, c.Status)
	if c.Status == types.StatusStealable {
		s.stealable[c.ID] = struct{}{}
	}
	if c.Contest != nil && c.Contest.Resolution == nil {
		s.contested[c.ID] = struct{}{}
	}
}

func (s *ClaimStore) indexStatusLocked(id string, st types.ClaimStatus) {
	set, ok := s.byStatus[st]
	if !ok {
		set = make(map[string]struct{})
		s.byStatus[st] = set
	}
	set[id] = struct{}{}
}

func (s *ClaimStore) removeFromIndexesLocked(c *types.Claim) {
	if set, ok := s.byClaimant[c.Claimant.ID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(s.byClaimant, c.Claimant.ID)
		}
	}
	if set, ok := s.byStatus[c.Status]; ok {
		delete(set, c.ID)
	}
	delete(s.stealable, c.ID)
	delete(s.contested, c.ID)
}

// ListByClaimant returns claims for a claimant, optionally filtered by
// status, ordered by claimed-at then id. Terminal claims are included only
// when the filter names a terminal status.
func (s *ClaimStore) ListByClaimant(filter types.ClaimFilter) ([]*types.Claim, int) {
	s.mu.RLock()
	var out []*types.Claim
	if filter.Status != nil && filter.Status.IsTerminal() {
		for _, c := range s.claims {
			if c.Claimant.ID == filter.ClaimantID && c.Status == *filter.Status {
				out = append(out, c.Clone())
			}
		}
	} else {
		for id := range s.byClaimant[filter.ClaimantID] {
			c := s.claims[id]
			if filter.Status != nil && c.Status != *filter.Status {
				continue
			}
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()

	sortClaims(out)
	return paginate(out, filter.Limit, filter.Offset)
}

// ListByStatus returns all claims currently in the given status.
func (s *ClaimStore) ListByStatus(st types.ClaimStatus) []*types.Claim {
	s.mu.RLock()
	var out []*types.Claim
	for id := range s.byStatus[st] {
		out = append(out, s.claims[id].Clone())
	}
	s.mu.RUnlock()
	sortClaims(out)
	return out
}

// ListStealable returns stealable claims sorted by priority (most urgent
// first), then marked-at (oldest first), then claim id.
func (s *ClaimStore) ListStealable() []*types.Claim {
	s.mu.RLock()
	var out []*types.Claim
	for id := range s.stealable {
		out = append(out, s.claims[id].Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		am, bm := a.Stealable.MarkedAt, b.Stealable.MarkedAt
		if !am.Equal(bm) {
			return am.Before(bm)
		}
		return a.ID < b.ID
	})
	return out
}

// ListContested returns claims with an unresolved contest.
func (s *ClaimStore) ListContested() []*types.Claim {
	s.mu.RLock()
	var out []*types.Claim
	for id := range s.contested {
		out = append(out, s.claims[id].Clone())
	}
	s.mu.RUnlock()
	sortClaims(out)
	return out
}

// ListNonTerminal returns every live claim.
func (s *ClaimStore) ListNonTerminal() []*types.Claim {
	s.mu.RLock()
	var out []*types.Claim
	for _, id := range s.byIssue {
		out = append(out, s.claims[id].Clone())
	}
	s.mu.RUnlock()
	sortClaims(out)
	return out
}

// All returns every claim record, live and terminal.
func (s *ClaimStore) All() []*types.Claim {
	s.mu.RLock()
	var out []*types.Claim
	for _, c := range s.claims {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sortClaims(out)
	return out
}

// ClaimedIssueIDs returns the set of issues with a live claim.
func (s *ClaimStore) ClaimedIssueIDs() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.byIssue))
	for issueID := range s.byIssue {
		out[issueID] = true
	}
	return out
}

// CountsByClaimant recounts live claims per claimant directly from the
// records. The load index uses this for its consistency check.
func (s *ClaimStore) CountsByClaimant() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for id, set := range s.byClaimant {
		out[id] = len(set)
	}
	return out
}

func sortClaims(claims []*types.Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if !claims[i].ClaimedAt.Equal(claims[j].ClaimedAt) {
			return claims[i].ClaimedAt.Before(claims[j].ClaimedAt)
		}
		return claims[i].ID < claims[j].ID
	})
}

func paginate(claims []*types.Claim, limit, offset int) ([]*types.Claim, int) {
	total := len(claims)
	if offset > 0 {
		if offset >= total {
			return nil, total
		}
		claims = claims[offset:]
	}
	if limit > 0 && len(claims) > limit {
		claims = claims[:limit]
	}
	return claims, total
}
