package coord

import (
	"fmt"

	"github.com/swarmhq/claimd/internal/archive"
	"github.com/swarmhq/claimd/internal/eventlog"
	"github.com/swarmhq/claimd/internal/types"
)

// Snapshot exports the coordinator's durable state: the event log plus the
// issue and claimant registries. The claim projection is not exported; it
// replays from the log on restore.
func (c *Coordinator) Snapshot() *archive.Snapshot {
	return &archive.Snapshot{
		SavedAt:   c.clk.Now(),
		Issues:    c.issues.All(),
		Claimants: c.claimants.All(),
		Events:    c.log.Export(),
	}
}

// Restore loads a snapshot into a freshly constructed coordinator: registers
// issues and claimants, imports the event log, and replays every claim
// aggregate into the projection. Restoring over existing state fails on the
// first version conflict.
func (c *Coordinator) Restore(snap *archive.Snapshot) error {
	for _, issue := range snap.Issues {
		if err := c.issues.Register(issue); err != nil {
			return fmt.Errorf("restore issue %s: %w", issue.ID, err)
		}
	}
	for _, claimant := range snap.Claimants {
		if err := c.claimants.Register(claimant); err != nil {
			return fmt.Errorf("restore claimant %s: %w", claimant.ID, err)
		}
	}
	if err := c.log.Import(snap.Events); err != nil {
		return fmt.Errorf("restore log: %w", err)
	}

	// Claim aggregates are the streams that open with claim:created; issue
	// and swarm aggregates carry no projection of their own.
	var order []string
	seen := make(map[string]bool)
	for _, entry := range snap.Events {
		ev := entry.Event
		if ev.Type != types.EventClaimCreated || seen[ev.AggregateID] {
			continue
		}
		seen[ev.AggregateID] = true
		order = append(order, ev.AggregateID)
	}
	for _, claimID := range order {
		claim, err := eventlog.Replay(c.log.Stream(claimID, 0))
		if err != nil {
			return fmt.Errorf("restore claim %s: %w", claimID, err)
		}
		if err := c.store.Install(claim); err != nil {
			return fmt.Errorf("restore claim %s: %w", claimID, err)
		}
		if !claim.Status.IsTerminal() {
			c.loads.OnTransition(claim.Claimant.ID, "", claim.Status)
		}
	}
	c.loads.Reconcile(c.store.CountsByClaimant)
	return nil
}
