package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmhq/claimd/internal/coord"
	"github.com/swarmhq/claimd/internal/telemetry"
)

// Surface dispatches named operations to the coordinator core. It owns input
// validation and the DTO shapes; the core owns the semantics.
type Surface struct {
	core *coord.Coordinator
	rec  *telemetry.Recorder
}

// New creates a surface over the coordinator. rec may be nil to disable
// instrumentation.
func New(core *coord.Coordinator, rec *telemetry.Recorder) *Surface {
	return &Surface{core: core, rec: rec}
}

// Core exposes the coordinator for transports that need to wire catalogue
// feeds or subscribers.
func (s *Surface) Core() *coord.Coordinator { return s.core }

type handler func(s *Surface, ctx context.Context, args json.RawMessage) (any, error)

var handlers = map[string]handler{
	OpIssueClaim:          (*Surface).issueClaim,
	OpIssueRelease:        (*Surface).issueRelease,
	OpIssueHandoff:        (*Surface).issueHandoff,
	OpIssueHandoffAccept:  (*Surface).issueHandoffAccept,
	OpIssueHandoffReject:  (*Surface).issueHandoffReject,
	OpIssueStatusUpdate:   (*Surface).issueStatusUpdate,
	OpIssueListAvailable:  (*Surface).issueListAvailable,
	OpIssueListMine:       (*Surface).issueListMine,
	OpIssueBoard:          (*Surface).issueBoard,
	OpIssueMarkStealable:  (*Surface).issueMarkStealable,
	OpIssueSteal:          (*Surface).issueSteal,
	OpIssueGetStealable:   (*Surface).issueGetStealable,
	OpIssueContestSteal:   (*Surface).issueContestSteal,
	OpClaimResolveContest: (*Surface).claimResolveContest,
	OpAgentLoadInfo:       (*Surface).agentLoadInfo,
	OpSwarmRebalance:      (*Surface).swarmRebalance,
	OpSwarmLoadOverview:   (*Surface).swarmLoadOverview,
	OpClaimHistory:        (*Surface).claimHistory,
	OpClaimMetrics:        (*Surface).claimMetrics,
	OpClaimConfig:         (*Surface).claimConfig,
}

// Dispatch routes one request. Errors never escape as Go errors; the kind
// rides in the response envelope.
func (s *Surface) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	h, ok := handlers[req.Op]
	if !ok {
		resp := errResponse(req.ID, KindUnknownOperation, fmt.Sprintf("unknown operation %q", req.Op))
		s.record(ctx, req.Op, start, resp)
		return resp
	}

	result, err := h(s, ctx, req.Args)
	var resp Response
	if err != nil {
		resp = errResponse(req.ID, errKind(err), err.Error())
	} else {
		resp = okResponse(req.ID, result)
	}
	s.record(ctx, req.Op, start, resp)
	return resp
}

func (s *Surface) record(ctx context.Context, op string, start time.Time, resp Response) {
	if s.rec == nil {
		return
	}
	kind := ""
	if resp.Error != nil {
		kind = resp.Error.Kind
	}
	s.rec.Observe(ctx, op, time.Since(start), kind)
}

// decodeArgs unmarshals the argument record, treating absent args as an
// empty object so optional-only operations work without one.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", coord.ErrValidation, err)
	}
	return nil
}

// defaultLimit caps unbounded list responses.
const (
	defaultLimit = 50
	maxLimit     = 100
)

// page validates and defaults limit/offset.
func page(limit, offset int) (int, int, error) {
	if limit < 0 || limit > maxLimit {
		return 0, 0, fmt.Errorf("%w: limit must be between 0 and %d", coord.ErrValidation, maxLimit)
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset cannot be negative", coord.ErrValidation)
	}
	if limit == 0 {
		limit = defaultLimit
	}
	return limit, offset, nil
}
