package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/types"
)

type issueMarkStealableArgs struct {
	IssueID    string            `json:"issueId"`
	ClaimantID string            `json:"claimantId"`
	Reason     types.StealReason `json:"reason,omitempty"`
}

func (s *Surface) issueMarkStealable(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueMarkStealableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Reason != "" && !args.Reason.IsValid() {
		return nil, fmt.Errorf("%w: invalid steal reason %q", coord.ErrValidation, args.Reason)
	}
	claim, err := s.core.MarkStealable(ctx, args.IssueID, args.ClaimantID, args.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"marked":   true,
		"status":   claim.Status,
		"reason":   claim.Stealable.Reason,
		"markedAt": claim.Stealable.MarkedAt,
	}, nil
}

type issueStealArgs struct {
	IssueID     string             `json:"issueId"`
	StealerID   string             `json:"stealerId"`
	StealerKind types.ClaimantKind `json:"stealerKind"`
	StealerType string             `json:"stealerType,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

func (s *Surface) issueSteal(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueStealArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	result, err := s.core.Steal(ctx, args.IssueID, args.StealerID, args.StealerKind, args.StealerType, args.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"stolen":              true,
		"newClaimId":          result.Claim.ID,
		"claimId":             result.Claim.ID,
		"previousClaimant":    result.PreviousClaimant,
		"progress":            result.Claim.Progress,
		"contestWindowMs":     s.core.Config().ContestWindowMs,
		"contestWindowEndsAt": result.ContestWindowEndsAt,
	}, nil
}

type issueGetStealableArgs struct {
	Priority *types.Priority `json:"priority,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

func (s *Surface) issueGetStealable(_ context.Context, raw json.RawMessage) (any, error) {
	var args issueGetStealableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Priority != nil && !args.Priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", coord.ErrValidation, *args.Priority)
	}
	limit, _, err := page(args.Limit, 0)
	if err != nil {
		return nil, err
	}
	claims := s.core.GetStealable(args.Priority, limit)
	return map[string]any{"claims": claims, "total": len(claims)}, nil
}

type issueContestStealArgs struct {
	IssueID     string `json:"issueId"`
	ContesterID string `json:"contesterId"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Surface) issueContestSteal(ctx context.Context, raw json.RawMessage) (any, error) {
	var args issueContestStealArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	contest, err := s.core.Contest(ctx, args.IssueID, args.ContesterID, args.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"contestId": contest.ID,
		"status":    contestStatus(contest),
		"defender":  contest.Defender,
		"endsAt":    contest.EndsAt,
	}, nil
}

// contestStatus reports the wire status of a contest: pending until a
// resolution lands, then upheld (defender kept the claim) or reversed.
func contestStatus(contest *types.Contest) string {
	if contest.Resolution == nil {
		return "pending"
	}
	if *contest.Resolution == types.ResolutionDefender {
		return "upheld"
	}
	return "reversed"
}

type claimResolveContestArgs struct {
	ContestID  string                  `json:"contestId"`
	Winner     types.ContestResolution `json:"winner"`
	ResolverID string                  `json:"resolverId"`
}

func (s *Surface) claimResolveContest(ctx context.Context, raw json.RawMessage) (any, error) {
	var args claimResolveContestArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if !args.Winner.IsValid() {
		return nil, fmt.Errorf("%w: winner must be defender or challenger", coord.ErrValidation)
	}
	claim, err := s.core.ResolveContest(ctx, args.ContestID, args.Winner, args.ResolverID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"winner":   args.Winner,
		"claimId":  claim.ID,
		"claimant": claim.Claimant.ID,
		"status":   claim.Status,
	}, nil
}
