package coord

import "errors"

// Sentinel errors for the operation surface. The tool layer maps these to
// caller-facing error kinds with errors.Is; messages wrapped around them add
// the specifics. Store-level sentinels (store.ErrAlreadyClaimed,
// store.ErrUnknownIssue, store.ErrNotFound, store.ErrConflict) pass through
// unchanged.
var (
	// ErrNotClaimed is returned when an issue has no live claim.
	ErrNotClaimed = errors.New("issue not claimed")

	// ErrNotOwner is returned when the caller does not hold the claim.
	ErrNotOwner = errors.New("claim not held by caller")

	// ErrInvalidTransition is returned for moves the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMaxClaimsExceeded is returned when a claimant is at its cap.
	ErrMaxClaimsExceeded = errors.New("max concurrent claims exceeded")

	// ErrValidation is returned for malformed inputs.
	ErrValidation = errors.New("validation error")

	// ErrInGrace is returned when a claim is still inside its grace period.
	ErrInGrace = errors.New("claim is within its grace period")

	// ErrAlreadyStealable is returned when a claim is marked twice.
	ErrAlreadyStealable = errors.New("claim is already stealable")

	// ErrNotStealable is returned when stealing a claim not marked stealable.
	ErrNotStealable = errors.New("claim is not stealable")

	// ErrCrossTypeNotAllowed is returned when the agent-type pair has no rule.
	ErrCrossTypeNotAllowed = errors.New("cross-type steal not allowed")

	// ErrProtectedByProgress is returned when progress protection inhibits a steal.
	ErrProtectedByProgress = errors.New("claim protected by progress")

	// ErrStealerOverloaded is returned when the stealer is at its own cap.
	ErrStealerOverloaded = errors.New("stealer is at max claims")

	// ErrNoActiveSteal is returned when there is no steal to contest.
	ErrNoActiveSteal = errors.New("no active steal to contest")

	// ErrWindowClosed is returned when the contest window has passed.
	ErrWindowClosed = errors.New("contest window closed")

	// ErrNotEligible is returned when the caller may not contest or accept.
	ErrNotEligible = errors.New("caller is not eligible")

	// ErrHandoffNotFound is returned when no matching handoff is pending.
	ErrHandoffNotFound = errors.New("handoff not found")

	// ErrContestPending is returned when a contest is already open.
	ErrContestPending = errors.New("contest already pending")

	// ErrProgressRegression is returned when progress would decrease.
	ErrProgressRegression = errors.New("progress cannot decrease")

	// ErrTimeout is returned when the deadline passed before the critical
	// section was reached. Nothing was mutated and nothing was emitted.
	ErrTimeout = errors.New("operation deadline exceeded")

	// ErrInternal wraps invariant violations (log version collisions and the
	// like). These are logged and never mutate state.
	ErrInternal = errors.New("internal error")
)
