package worker

import (
	"context"

	"github.com/tenonworks/tenon/internal/rules"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// ValidationWorker judges candidate documents against the rule engine. It is
// the safety-critical validator: its failures are never silently defaulted.
type ValidationWorker struct {
	Engine *rules.Engine
}

func (w *ValidationWorker) Name() string { return "validation" }

// CanHandle is true for every intent: validation participates in every turn.
func (w *ValidationWorker) CanHandle(intent string) bool { return true }

func (w *ValidationWorker) HandleMessage(ctx context.Context, msg drawingboard.Message) (any, error) {
	return dispatchMessage(ctx, w, "validation", msg)
}

func (w *ValidationWorker) Propose(ctx context.Context, input string, wctx Context) (*Proposal, error) {
	conflicts := w.Engine.Evaluate(wctx.Snapshot.Document)

	var issues, suggestions []string
	success := true
	for _, c := range conflicts {
		switch c.Severity {
		case drawingboard.SeverityLow:
			suggestions = append(suggestions, c.Description)
		default:
			issues = append(issues, c.Description)
			if c.Severity == drawingboard.SeverityHigh {
				success = false
			}
		}
	}

	return &Proposal{
		Success:     success,
		Reasoning:   "rule evaluation over the current design",
		Confidence:  1,
		Issues:      issues,
		Suggestions: suggestions,
	}, nil
}

func (w *ValidationWorker) validate(req ValidationRequest) ValidationResult {
	conflicts := w.Engine.Evaluate(req.Document)

	valid := true
	var issues []string
	for _, c := range conflicts {
		issues = append(issues, c.Description)
		if c.Severity == drawingboard.SeverityHigh {
			valid = false
		}
	}

	return ValidationResult{
		Worker: w.Name(),
		Valid:  valid,
		Score:  rules.Score(conflicts),
		Issues: issues,
	}
}
