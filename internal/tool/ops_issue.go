package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/types"
)

type issueClaimArgs struct {
	IssueID      string             `json:"issueId"`
	ClaimantID   string             `json:"claimantId"`
	ClaimantKind types.ClaimantKind `json:"claimantKind"`
	Priority     types.Priority     `json:"priority,omitempty"`
	TTLMs        int64              `json:"ttlMs,omitempty"`
}

type issueClaimResult struct {
	ClaimID   string            `json:"claimId"`
	Status    types.ClaimStatus `json:"status"`
	ClaimedAt time.Time         `json:"claimedAt"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

func (s *Surface) issueClaim(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueClaimArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Priority != "" && !args.Priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", coord.ErrValidation, args.Priority)
	}
	if args.TTLMs < 0 {
		return nil, fmt.Errorf("%w: ttlMs cannot be negative", coord.ErrValidation)
	}
	claim, err := s.core.Claim(ctx, coord.ClaimRequest{
		IssueID:    args.IssueID,
		ClaimantID: args.ClaimantID,
		Kind:       args.ClaimantKind,
		Priority:   args.Priority,
		TTL:        time.Duration(args.TTLMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return issueClaimResult{
		ClaimID:   claim.ID,
		Status:    claim.Status,
		ClaimedAt: claim.ClaimedAt,
		ExpiresAt: claim.ExpiresAt,
	}, nil
}

type issueReleaseArgs struct {
	IssueID    string `json:"issueId"`
	ClaimantID string `json:"claimantId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Surface) issueRelease(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueReleaseArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	claim, err := s.core.Release(ctx, args.IssueID, args.ClaimantID, args.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"released":   true,
		"releasedAt": claim.LastActivityAt,
	}, nil
}

type issueStatusUpdateArgs struct {
	IssueID    string `json:"issueId"`
	ClaimantID string `json:"claimantId"`
	Status     string `json:"status"`
	Progress   *int   `json:"progress,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// statusUpdateTargets is the caller-facing projection of the status set.
// Transitions through paused, handoff-pending, and the steal statuses are
// effected by their dedicated operations.
var statusUpdateTargets = map[string]types.ClaimStatus{
	"active":    types.StatusActive,
	"blocked":   types.StatusBlocked,
	"in-review": types.StatusReviewRequested,
	"completed": types.StatusCompleted,
}

func (s *Surface) issueStatusUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueStatusUpdateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	target, ok := statusUpdateTargets[args.Status]
	if !ok {
		return nil, fmt.Errorf("%w: status must be one of active, blocked, in-review, completed",
			coord.ErrValidation)
	}
	claim, err := s.core.UpdateStatus(ctx, args.IssueID, args.ClaimantID, target, args.Notes, args.Progress)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":    claim.Status,
		"progress":  claim.Progress,
		"updatedAt": claim.LastActivityAt,
	}, nil
}

type issueHandoffArgs struct {
	IssueID string              `json:"issueId"`
	FromID  string              `json:"fromId"`
	Reason  types.HandoffReason `json:"reason"`
	ToID    string              `json:"toId,omitempty"`
	ToKind  types.ClaimantKind  `json:"toKind,omitempty"`
	Notes   string              `json:"notes,omitempty"`
}

func (s *Surface) issueHandoff(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueHandoffArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	claim, err := s.core.RequestHandoff(ctx, coord.HandoffInput{
		IssueID:        args.IssueID,
		FromID:         args.FromID,
		TargetClaimant: args.ToID,
		TargetKind:     args.ToKind,
		Reason:         args.Reason,
		Notes:          args.Notes,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"handoffId": claim.Handoff.ID,
		"status":    claim.Status,
		"createdAt": claim.Handoff.RequestedAt,
	}, nil
}

type issueHandoffAcceptArgs struct {
	IssueID      string             `json:"issueId"`
	HandoffID    string             `json:"handoffId"`
	AcceptorID   string             `json:"acceptorId"`
	AcceptorKind types.ClaimantKind `json:"acceptorKind"`
}

func (s *Surface) issueHandoffAccept(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueHandoffAcceptArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	claim, err := s.core.AcceptHandoff(ctx, args.IssueID, args.HandoffID, args.AcceptorID, args.AcceptorKind)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"claimId":    claim.ID,
		"status":     claim.Status,
		"progress":   claim.Progress,
		"acceptedAt": claim.ClaimedAt,
	}, nil
}

type issueHandoffRejectArgs struct {
	IssueID    string `json:"issueId"`
	HandoffID  string `json:"handoffId"`
	RejectorID string `json:"rejectorId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Surface) issueHandoffReject(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueHandoffRejectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	claim, err := s.core.RejectHandoff(ctx, args.IssueID, args.HandoffID, args.RejectorID, args.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":     claim.Status,
		"rejectedAt": claim.LastActivityAt,
	}, nil
}

type issueListAvailableArgs struct {
	Priority   *types.Priority `json:"priority,omitempty"`
	Labels     []string        `json:"labels,omitempty"`
	Repository string          `json:"repository,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

func (s *Surface) issueListAvailable(_ context.Context, raw json.RawMessage) (any, error) {
	var args issueListAvailableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Priority != nil && !args.Priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", coord.ErrValidation, *args.Priority)
	}
	limit, offset, err := page(args.Limit, args.Offset)
	if err != nil {
		return nil, err
	}
	issues, total := s.core.ListAvailable(types.IssueFilter{
		Priority:   args.Priority,
		Labels:     args.Labels,
		Repository: args.Repository,
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{"issues": issues, "total": total}, nil
}

type issueListMineArgs struct {
	ClaimantID string             `json:"claimantId"`
	Status     *types.ClaimStatus `json:"status,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

func (s *Surface) issueListMine(_ context.Context, raw json.RawMessage) (any, error) {
	var args issueListMineArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ClaimantID == "" {
		return nil, fmt.Errorf("%w: claimantId is required", coord.ErrValidation)
	}
	if args.Status != nil && !args.Status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", coord.ErrValidation, *args.Status)
	}
	limit, offset, err := page(args.Limit, args.Offset)
	if err != nil {
		return nil, err
	}
	claims, total := s.core.ListMine(types.ClaimFilter{
		ClaimantID: args.ClaimantID,
		Status:     args.Status,
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{"claims": claims, "total": total}, nil
}

type issueBoardArgs struct {
	IncludeAgents *bool  `json:"includeAgents,omitempty"`
	IncludeHumans *bool  `json:"includeHumans,omitempty"`
	GroupBy       string `json:"groupBy,omitempty"`
}

func (s *Surface) issueBoard(_ context.Context, raw json.RawMessage) (any, error) {
	var args issueBoardArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	includeAgents := args.IncludeAgents == nil || *args.IncludeAgents
	includeHumans := args.IncludeHumans == nil || *args.IncludeHumans

	claims, counts := s.core.Board()
	filtered := make([]*types.Claim, 0, len(claims))
	for _, claim := range claims {
		if claim.Claimant.Kind == types.KindAgent && !includeAgents {
			continue
		}
		if claim.Claimant.Kind == types.KindHuman && !includeHumans {
			continue
		}
		filtered = append(filtered, claim)
	}

	result := map[string]any{"claims": filtered, "counts": counts}
	switch args.GroupBy {
	case "":
	case "claimant":
		groups := make(map[string][]*types.Claim)
		for _, claim := range filtered {
			groups[claim.Claimant.ID] = append(groups[claim.Claimant.ID], claim)
		}
		result["groups"] = groups
	case "priority":
		groups := make(map[types.Priority][]*types.Claim)
		for _, claim := range filtered {
			groups[claim.Priority] = append(groups[claim.Priority], claim)
		}
		result["groups"] = groups
	case "status":
		groups := make(map[types.ClaimStatus][]*types.Claim)
		for _, claim := range filtered {
			groups[claim.Status] = append(groups[claim.Status], claim)
		}
		result["groups"] = groups
	default:
		return nil, fmt.Errorf("%w: groupBy must be claimant, priority, or status", coord.ErrValidation)
	}
	return result, nil
}

type claimHistoryArgs struct {
	IssueID string `json:"issueId"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Surface) claimHistory(_ context.Context, raw json.RawMessage) (any, error) {
	var args claimHistoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.IssueID == "" {
		return nil, fmt.Errorf("%w: issueId is required", coord.ErrValidation)
	}
	if args.Limit < 0 {
		return nil, fmt.Errorf("%w: limit cannot be negative", coord.ErrValidation)
	}
	events := s.core.History(args.IssueID, args.Limit)
	return map[string]any{"history": events, "total": len(events)}, nil
}
