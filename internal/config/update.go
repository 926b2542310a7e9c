package config

import (
	"fmt"
)

// ApplyUpdates returns a copy of c with the given key/value updates applied.
// Keys use the wire names from the claim_config operation. Unknown keys are
// rejected; the merged result is validated before it is returned so a bad
// update can never become the live config.
func (c Config) ApplyUpdates(updates map[string]any) (Config, error) {
	out := c
	out.CrossTypeStealRules = append([]string(nil), c.CrossTypeStealRules...)

	for key, raw := range updates {
		var err error
		switch key {
		case "defaultExpirationMs":
			out.DefaultExpirationMs, err = asInt64(raw)
		case "maxClaimsPerAgent":
			out.MaxClaimsPerAgent, err = asInt(raw)
		case "autoReleaseOnInactivityMs":
			out.AutoReleaseOnInactivityMs, err = asInt64(raw)
		case "gracePeriodMinutes":
			out.GracePeriodMinutes, err = asInt(raw)
		case "staleThresholdMinutes":
			out.StaleThresholdMinutes, err = asInt(raw)
		case "blockedThresholdMinutes":
			out.BlockedThresholdMinutes, err = asInt(raw)
		case "overloadThreshold":
			out.OverloadThreshold, err = asInt(raw)
		case "minProgressToProtect":
			out.MinProgressToProtect, err = asInt(raw)
		case "contestWindowMs":
			out.ContestWindowMs, err = asInt64(raw)
		case "allowCrossTypeSteal":
			out.AllowCrossTypeSteal, err = asBool(raw)
		case "crossTypeStealRules":
			out.CrossTypeStealRules, err = asStrings(raw)
		case "rebalanceStrategy":
			out.RebalanceStrategy, err = asString(raw)
		case "moveSelection":
			out.MoveSelection, err = asString(raw)
		case "overloadedPercent":
			out.OverloadedPercent, err = asInt(raw)
		case "underloadedPercent":
			out.UnderloadedPercent, err = asInt(raw)
		case "spreadTriggerPoints":
			out.SpreadTriggerPoints, err = asInt(raw)
		case "rebalanceIntervalMinutes":
			out.RebalanceIntervalMinutes, err = asInt(raw)
		case "rebalanceCooldownMinutes":
			out.RebalanceCooldownMinutes, err = asInt(raw)
		case "maxMovesPerRebalance":
			out.MaxMovesPerRebalance, err = asInt(raw)
		case "respectCapabilities":
			out.RespectCapabilities, err = asBool(raw)
		default:
			return c, fmt.Errorf("unknown config key: %s", key)
		}
		if err != nil {
			return c, fmt.Errorf("config key %s: %w", key, err)
		}
	}

	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func asString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, found %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string list, got %T", v)
}
