// Package config holds the coordinator's tunable settings. Updates arrive
// through the claim_config operation as key/value maps; unknown keys are
// rejected and the whole config re-validates before it is swapped in.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Rebalance target-selection strategies.
const (
	StrategyRoundRobin      = "round-robin"
	StrategyLeastLoaded     = "least-loaded"
	StrategyPriorityBased   = "priority-based"
	StrategyCapabilityBased = "capability-based"
)

// Move-selection strategies: which claims leave an overloaded claimant first.
const (
	MoveOldestFirst     = "oldest-first"
	MoveNewestFirst     = "newest-first"
	MoveLowestPriority  = "lowest-priority"
	MoveLeastProgress   = "least-progress"
	MoveCapabilityMatch = "capability-match"
)

// ValidStrategy reports whether s is a known rebalance strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyPriorityBased, StrategyCapabilityBased:
		return true
	}
	return false
}

// ValidMoveSelection reports whether s is a known move-selection strategy.
func ValidMoveSelection(s string) bool {
	switch s {
	case MoveOldestFirst, MoveNewestFirst, MoveLowestPriority, MoveLeastProgress, MoveCapabilityMatch:
		return true
	}
	return false
}

// Config is the complete coordinator configuration.
type Config struct {
	// Claim lifecycle
	DefaultExpirationMs       int64 `yaml:"default_expiration_ms" json:"defaultExpirationMs"`
	MaxClaimsPerAgent         int   `yaml:"max_claims_per_agent" json:"maxClaimsPerAgent"`
	AutoReleaseOnInactivityMs int64 `yaml:"auto_release_on_inactivity_ms" json:"autoReleaseOnInactivityMs"`

	// Stealing
	GracePeriodMinutes      int      `yaml:"grace_period_minutes" json:"gracePeriodMinutes"`
	StaleThresholdMinutes   int      `yaml:"stale_threshold_minutes" json:"staleThresholdMinutes"`
	BlockedThresholdMinutes int      `yaml:"blocked_threshold_minutes" json:"blockedThresholdMinutes"`
	OverloadThreshold       int      `yaml:"overload_threshold" json:"overloadThreshold"`
	MinProgressToProtect    int      `yaml:"min_progress_to_protect" json:"minProgressToProtect"`
	ContestWindowMs         int64    `yaml:"contest_window_ms" json:"contestWindowMs"`
	AllowCrossTypeSteal     bool     `yaml:"allow_cross_type_steal" json:"allowCrossTypeSteal"`
	CrossTypeStealRules     []string `yaml:"cross_type_steal_rules" json:"crossTypeStealRules"` // "typeA:typeB" unordered pairs

	// Rebalancing
	RebalanceStrategy        string `yaml:"rebalance_strategy" json:"rebalanceStrategy"`
	MoveSelection            string `yaml:"move_selection" json:"moveSelection"`
	OverloadedPercent        int    `yaml:"overloaded_percent" json:"overloadedPercent"`
	UnderloadedPercent       int    `yaml:"underloaded_percent" json:"underloadedPercent"`
	SpreadTriggerPoints      int    `yaml:"spread_trigger_points" json:"spreadTriggerPoints"`
	RebalanceIntervalMinutes int    `yaml:"rebalance_interval_minutes" json:"rebalanceIntervalMinutes"`
	RebalanceCooldownMinutes int    `yaml:"rebalance_cooldown_minutes" json:"rebalanceCooldownMinutes"`
	MaxMovesPerRebalance     int    `yaml:"max_moves_per_rebalance" json:"maxMovesPerRebalance"`
	RespectCapabilities      bool   `yaml:"respect_capabilities" json:"respectCapabilities"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DefaultExpirationMs:       0, // claims do not expire unless a ttl is given
		MaxClaimsPerAgent:         5,
		AutoReleaseOnInactivityMs: 0, // disabled

		GracePeriodMinutes:      10,
		StaleThresholdMinutes:   30,
		BlockedThresholdMinutes: 60,
		OverloadThreshold:       5,
		MinProgressToProtect:    75,
		ContestWindowMs:         5 * 60 * 1000,
		AllowCrossTypeSteal:     true,
		CrossTypeStealRules:     []string{"coder:debugger", "tester:reviewer"},

		RebalanceStrategy:        StrategyLeastLoaded,
		MoveSelection:            MoveOldestFirst,
		OverloadedPercent:        90,
		UnderloadedPercent:       30,
		SpreadTriggerPoints:      40,
		RebalanceIntervalMinutes: 5,
		RebalanceCooldownMinutes: 10,
		MaxMovesPerRebalance:     3,
		RespectCapabilities:      true,
	}
}

// GracePeriod returns the steal grace period as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMinutes) * time.Minute
}

// StaleThreshold returns the no-activity threshold as a duration.
func (c Config) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}

// BlockedThreshold returns the time-in-blocked threshold as a duration.
func (c Config) BlockedThreshold() time.Duration {
	return time.Duration(c.BlockedThresholdMinutes) * time.Minute
}

// ContestWindow returns the contest window as a duration. The configured
// value is authoritative; the 300000 in tool examples is illustrative only.
func (c Config) ContestWindow() time.Duration {
	return time.Duration(c.ContestWindowMs) * time.Millisecond
}

// RebalanceInterval returns the periodic rebalance interval.
func (c Config) RebalanceInterval() time.Duration {
	return time.Duration(c.RebalanceIntervalMinutes) * time.Minute
}

// RebalanceCooldown returns the minimum gap between applied passes.
func (c Config) RebalanceCooldown() time.Duration {
	return time.Duration(c.RebalanceCooldownMinutes) * time.Minute
}

// CrossTypeAllowed reports whether a steal between the two agent types is
// permitted. Same-type steals are always allowed; pairs are unordered.
func (c Config) CrossTypeAllowed(a, b string) bool {
	if a == b || a == "" || b == "" {
		return true
	}
	if !c.AllowCrossTypeSteal {
		return false
	}
	for _, rule := range c.CrossTypeStealRules {
		parts := strings.SplitN(rule, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if (parts[0] == a && parts[1] == b) || (parts[0] == b && parts[1] == a) {
			return true
		}
	}
	return false
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.MaxClaimsPerAgent < 1 {
		return fmt.Errorf("max_claims_per_agent must be at least 1")
	}
	if c.GracePeriodMinutes < 0 || c.StaleThresholdMinutes < 0 || c.BlockedThresholdMinutes < 0 {
		return fmt.Errorf("threshold minutes cannot be negative")
	}
	if c.MinProgressToProtect < 0 || c.MinProgressToProtect > 100 {
		return fmt.Errorf("min_progress_to_protect must be between 0 and 100")
	}
	if c.ContestWindowMs < 0 {
		return fmt.Errorf("contest_window_ms cannot be negative")
	}
	if c.OverloadedPercent <= c.UnderloadedPercent {
		return fmt.Errorf("overloaded_percent must exceed underloaded_percent")
	}
	if c.OverloadedPercent > 100 || c.UnderloadedPercent < 0 {
		return fmt.Errorf("load percentages must be within 0-100")
	}
	if !ValidStrategy(c.RebalanceStrategy) {
		return fmt.Errorf("invalid rebalance_strategy: %s", c.RebalanceStrategy)
	}
	if !ValidMoveSelection(c.MoveSelection) {
		return fmt.Errorf("invalid move_selection: %s", c.MoveSelection)
	}
	if c.MaxMovesPerRebalance < 1 {
		return fmt.Errorf("max_moves_per_rebalance must be at least 1")
	}
	for _, rule := range c.CrossTypeStealRules {
		if len(strings.SplitN(rule, ":", 2)) != 2 {
			return fmt.Errorf("invalid cross_type_steal_rule %q (want typeA:typeB)", rule)
		}
	}
	return nil
}
