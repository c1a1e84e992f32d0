package worker

import (
	"context"
	"fmt"

	"github.com/tenonworks/tenon/internal/rules"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// JoineryWorker proposes a joint type suited to the primary material already
// on the board. It depends on the material worker having run first; without
// a material it reports an unsuccessful proposal rather than guessing.
type JoineryWorker struct{}

func (w *JoineryWorker) Name() string { return "joinery" }

func (w *JoineryWorker) CanHandle(intent string) bool {
	switch intent {
	case "design", "joinery", "refine":
		return true
	default:
		return false
	}
}

func (w *JoineryWorker) Topics() []string {
	return []string{"design_updated"}
}

func (w *JoineryWorker) HandleMessage(ctx context.Context, msg drawingboard.Message) (any, error) {
	return dispatchMessage(ctx, w, "joinery", msg)
}

func (w *JoineryWorker) Propose(ctx context.Context, input string, wctx Context) (*Proposal, error) {
	material, ok := firstMaterial(wctx.Snapshot.Document)
	if !ok {
		return &Proposal{
			Success:   false,
			Issues:    []string{"no material chosen yet; joinery depends on it"},
			NextSteps: []string{"pick a material, then revisit joinery"},
		}, nil
	}

	joint := rules.RecommendedJoinery(material)
	fasteners := "glue"
	if joint == "dado" {
		fasteners = "glue_and_screws"
	}

	return &Proposal{
		Success: true,
		Updates: map[string]any{
			"joinery.type":      joint,
			"joinery.fasteners": fasteners,
		},
		Reasoning:  fmt.Sprintf("%s is the safe joint for %s", joint, material),
		Confidence: 0.75,
	}, nil
}
