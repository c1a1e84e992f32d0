package worker

import (
	"context"
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// Shared message handling for the built-in worker set. Queries carry the
// tagged payload union; broadcasts are absorbed (the built-in workers are
// stateless between turns).

func dispatchMessage(ctx context.Context, w Worker, domainPrefix string, msg drawingboard.Message) (any, error) {
	if msg.Kind == drawingboard.MessageKindBroadcast {
		return nil, nil
	}

	switch p := msg.Payload.(type) {
	case ProposalRequest:
		return w.Propose(ctx, p.Input, p.Context)
	case ValidationRequest:
		if v, ok := w.(interface {
			validate(ValidationRequest) ValidationResult
		}); ok {
			return v.validate(p), nil
		}
		return ValidationResult{Worker: w.Name(), Valid: true, Score: 1}, nil
	case VoteRequest:
		return castVote(domainPrefix, p), nil
	default:
		return nil, fmt.Errorf("worker %q cannot handle payload %T", w.Name(), msg.Payload)
	}
}

// castVote picks the lowest-index candidate whose updates leave the voter's
// own domain untouched; if every candidate touches it, vote for the first
// submitted. Deterministic so arbitration is reproducible across runs.
func castVote(domainPrefix string, req VoteRequest) Vote {
	for i, cand := range req.Candidates {
		touches := false
		for path := range cand.Updates {
			if drawingboard.PathsOverlap(path, domainPrefix) {
				touches = true
				break
			}
		}
		if !touches {
			return Vote{Candidate: i, Reason: "does not disturb " + domainPrefix}
		}
	}
	return Vote{Candidate: 0, Reason: "first submitted"}
}

// constraintFloat reads a numeric limit from turn constraints first, then
// from the cumulative session constraints.
func constraintFloat(wctx Context, path string) (float64, bool) {
	if v, ok := wctx.TurnConstraints[path]; ok {
		if f, ok := asFloat(v); ok {
			return f, true
		}
	}
	if v, ok := drawingboard.GetPath(wctx.Snapshot.Constraints, path); ok {
		if f, ok := asFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func documentType(wctx Context) (string, bool) {
	v, ok := wctx.Snapshot.Document["type"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
