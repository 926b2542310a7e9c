// Package tool exposes the coordinator as a transport-agnostic operation
// surface: named operations with validated JSON argument records and result
// DTOs. Transports (the unix-socket server, tests) marshal requests into
// Dispatch and never reach around it.
package tool

import (
	"encoding/json"
	"errors"

	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/store"
)

// Operation names.
const (
	OpIssueClaim          = "issue_claim"
	OpIssueRelease        = "issue_release"
	OpIssueHandoff        = "issue_handoff"
	OpIssueHandoffAccept  = "issue_handoff_accept"
	OpIssueHandoffReject  = "issue_handoff_reject"
	OpIssueStatusUpdate   = "issue_status_update"
	OpIssueListAvailable  = "issue_list_available"
	OpIssueListMine       = "issue_list_mine"
	OpIssueBoard          = "issue_board"
	OpIssueMarkStealable  = "issue_mark_stealable"
	OpIssueSteal          = "issue_steal"
	OpIssueGetStealable   = "issue_get_stealable"
	OpIssueContestSteal   = "issue_contest_steal"
	OpClaimResolveContest = "claim_resolve_contest"
	OpAgentLoadInfo       = "agent_load_info"
	OpSwarmRebalance      = "swarm_rebalance"
	OpSwarmLoadOverview   = "swarm_load_overview"
	OpClaimHistory        = "claim_history"
	OpClaimMetrics        = "claim_metrics"
	OpClaimConfig         = "claim_config"
)

// Request is the wire envelope for one operation call.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the wire envelope for one result. Operations never propagate
// errors as transport failures; the error kind rides in the envelope.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo carries a machine-readable kind plus a human-readable message.
type ErrorInfo struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Error kinds.
const (
	KindUnknownIssue         = "UnknownIssue"
	KindAlreadyClaimed       = "AlreadyClaimed"
	KindNotClaimed           = "NotClaimed"
	KindNotOwner             = "NotOwner"
	KindInvalidTransition    = "InvalidTransition"
	KindMaxClaimsExceeded    = "MaxClaimsExceeded"
	KindValidationError      = "ValidationError"
	KindInGrace              = "InGrace"
	KindAlreadyStealable     = "AlreadyStealable"
	KindNotStealable         = "NotStealable"
	KindCrossTypeNotAllowed  = "CrossTypeNotAllowed"
	KindProtectedByProgress  = "ProtectedByProgress"
	KindStealerOverloaded    = "StealerOverloaded"
	KindNoActiveSteal        = "NoActiveSteal"
	KindWindowClosed         = "WindowClosed"
	KindNotEligibleContester = "NotEligibleContester"
	KindHandoffNotFound      = "HandoffNotFound"
	KindContestPending       = "ContestPending"
	KindTimeout              = "Timeout"
	KindConflict             = "Conflict"
	KindNotFound             = "NotFound"
	KindUnknownOperation     = "UnknownOperation"
	KindInternal             = "Internal"
)

// errKind maps core sentinels to caller-facing kinds.
func errKind(err error) string {
	switch {
	case errors.Is(err, store.ErrUnknownIssue):
		return KindUnknownIssue
	case errors.Is(err, store.ErrAlreadyClaimed):
		return KindAlreadyClaimed
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, coord.ErrNotClaimed):
		return KindNotClaimed
	case errors.Is(err, coord.ErrNotOwner):
		return KindNotOwner
	case errors.Is(err, coord.ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, coord.ErrMaxClaimsExceeded):
		return KindMaxClaimsExceeded
	case errors.Is(err, coord.ErrValidation), errors.Is(err, coord.ErrProgressRegression):
		return KindValidationError
	case errors.Is(err, coord.ErrInGrace):
		return KindInGrace
	case errors.Is(err, coord.ErrAlreadyStealable):
		return KindAlreadyStealable
	case errors.Is(err, coord.ErrNotStealable):
		return KindNotStealable
	case errors.Is(err, coord.ErrCrossTypeNotAllowed):
		return KindCrossTypeNotAllowed
	case errors.Is(err, coord.ErrProtectedByProgress):
		return KindProtectedByProgress
	case errors.Is(err, coord.ErrStealerOverloaded):
		return KindStealerOverloaded
	case errors.Is(err, coord.ErrNoActiveSteal):
		return KindNoActiveSteal
	case errors.Is(err, coord.ErrWindowClosed):
		return KindWindowClosed
	case errors.Is(err, coord.ErrNotEligible):
		return KindNotEligibleContester
	case errors.Is(err, coord.ErrHandoffNotFound):
		return KindHandoffNotFound
	case errors.Is(err, coord.ErrContestPending):
		return KindContestPending
	case errors.Is(err, coord.ErrTimeout):
		return KindTimeout
	default:
		return KindInternal
	}
}

func okResponse(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return errResponse(id, KindInternal, "marshaling result: "+err.Error())
	}
	return Response{ID: id, Success: true, Result: raw}
}

func errResponse(id, kind, message string) Response {
	return Response{ID: id, Success: false, Error: &ErrorInfo{Kind: kind, Message: message}}
}
