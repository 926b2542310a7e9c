package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/types"
)

type agentLoadInfoArgs struct {
	AgentID    string `json:"agentId,omitempty"`
	ClaimantID string `json:"claimantId,omitempty"` // alias for agentId
}

func (s *Surface) agentLoadInfo(_ context.Context, raw json.RawMessage) (any, error) {
	var args agentLoadInfoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	id := args.AgentID
	if id == "" {
		id = args.ClaimantID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: agentId is required", coord.ErrValidation)
	}
	sample := s.core.LoadInfo(id)
	return loadSampleDTO(id, sample), nil
}

type swarmRebalanceArgs struct {
	Strategy string `json:"strategy,omitempty"`
	DryRun   bool   `json:"dryRun,omitempty"`
}

func (s *Surface) swarmRebalance(ctx context.Context, raw json.RawMessage) (any, error) {
	var args swarmRebalanceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	result, err := s.core.Rebalance(ctx, args.Strategy, args.DryRun)
	if err != nil {
		return nil, err
	}
	moves := make([]map[string]any, 0, len(result.Moves))
	for _, move := range result.Moves {
		dto := map[string]any{
			"issueId":  move.IssueID,
			"from":     move.From,
			"to":       move.To,
			"priority": move.Priority,
			"applied":  move.Applied,
		}
		if move.NewClaimID != "" {
			dto["newClaimId"] = move.NewClaimID
		}
		if move.SkipReason != "" {
			dto["skipReason"] = move.SkipReason
		}
		moves = append(moves, dto)
	}
	return map[string]any{
		"strategy": result.Strategy,
		"dryRun":   result.DryRun,
		"applied":  result.Applied,
		"reason":   result.Reason,
		"moves":    moves,
		"before":   loadMapDTO(result.Before),
		"after":    loadMapDTO(result.After),
	}, nil
}

type swarmLoadOverviewArgs struct {
	IncludeRecommendations bool `json:"includeRecommendations,omitempty"`
}

func (s *Surface) swarmLoadOverview(_ context.Context, raw json.RawMessage) (any, error) {
	var args swarmLoadOverviewArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	snap := s.core.LoadOverview()
	result := map[string]any{"claimants": loadMapDTO(snap)}

	if args.IncludeRecommendations {
		var bottlenecks, idle []string
		for id, sample := range snap {
			if sample.Overloaded {
				bottlenecks = append(bottlenecks, id)
			}
			if sample.Underloaded {
				idle = append(idle, id)
			}
		}
		sort.Strings(bottlenecks)
		sort.Strings(idle)

		recommendations := []string{}
		if len(bottlenecks) > 0 && len(idle) > 0 {
			recommendations = append(recommendations,
				fmt.Sprintf("run swarm_rebalance: %d overloaded, %d underloaded", len(bottlenecks), len(idle)))
		}
		for _, id := range bottlenecks {
			recommendations = append(recommendations,
				fmt.Sprintf("%s is over capacity (%.0f%%)", id, snap[id].LoadPercentage))
		}
		result["bottlenecks"] = bottlenecks
		result["recommendations"] = recommendations
	}
	return result, nil
}

type claimMetricsArgs struct {
	TimeRange string `json:"timeRange,omitempty"`
}

// metricsRanges maps the wire time ranges onto lookback windows. Zero means
// the full history.
var metricsRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"all": 0,
}

func (s *Surface) claimMetrics(_ context.Context, raw json.RawMessage) (any, error) {
	var args claimMetricsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.TimeRange == "" {
		args.TimeRange = "all"
	}
	lookback, ok := metricsRanges[args.TimeRange]
	if !ok {
		return nil, fmt.Errorf("%w: timeRange must be one of 1h, 24h, 7d, 30d, all", coord.ErrValidation)
	}
	var since time.Time
	if lookback > 0 {
		since = s.core.Now().Add(-lookback)
	}
	report := s.core.Metrics(since)
	return map[string]any{
		"timeRange":       args.TimeRange,
		"created":         report.Created,
		"completed":       report.Completed,
		"released":        report.Released,
		"expired":         report.Expired,
		"stolen":          report.Stolen,
		"contests":        report.Contests,
		"rebalances":      report.Rebalances,
		"liveByStatus":    report.LiveByStatus,
		"liveByPriority":  report.LiveByPriority,
		"avgCompletionMs": report.AvgCompletionMs,
		"avgLiveAgeMs":    report.AvgLiveAgeMs,
	}, nil
}

type claimConfigArgs struct {
	Action  string         `json:"action"`
	Config  map[string]any `json:"config,omitempty"`
	Updates map[string]any `json:"updates,omitempty"` // alias for config
}

func (s *Surface) claimConfig(_ context.Context, raw json.RawMessage) (any, error) {
	var args claimConfigArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	updates := args.Config
	if len(updates) == 0 {
		updates = args.Updates
	}
	switch args.Action {
	case "get":
		return map[string]any{"config": s.core.Config()}, nil
	case "set":
		if len(updates) == 0 {
			return nil, fmt.Errorf("%w: set requires config values", coord.ErrValidation)
		}
		cfg, err := s.core.UpdateConfig(updates)
		if err != nil {
			return nil, err
		}
		return map[string]any{"config": cfg, "updated": len(updates)}, nil
	default:
		return nil, fmt.Errorf("%w: action must be get or set", coord.ErrValidation)
	}
}

func loadSampleDTO(id string, sample types.LoadSample) map[string]any {
	return map[string]any{
		"claimantId":      id,
		"activeClaims":    sample.ActiveClaims,
		"pausedClaims":    sample.PausedClaims,
		"completedClaims": sample.CompletedClaims,
		"maxClaims":       sample.MaxClaims,
		"loadPercentage":  sample.LoadPercentage,
		"overloaded":      sample.Overloaded,
		"underloaded":     sample.Underloaded,
	}
}

func loadMapDTO(snap map[string]types.LoadSample) map[string]any {
	out := make(map[string]any, len(snap))
	for id, sample := range snap {
		out[id] = loadSampleDTO(id, sample)
	}
	return out
}
