package worker

import (
	"context"
	"fmt"

	"github.com/tenonworks/tenon/internal/rules"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// MaterialWorker proposes a primary material and board thickness from a
// per-type material table, honoring a preferred-material constraint when one
// is on the board.
type MaterialWorker struct{}

type materialChoice struct {
	material  string
	thickness float64
}

var defaultMaterials = map[string]materialChoice{
	"bookshelf": {"mdf", 0.75},
	"shelf":     {"pine", 0.75},
	"cabinet":   {"plywood", 0.75},
	"table":     {"oak", 1.0},
	"desk":      {"plywood", 0.75},
	"chair":     {"maple_hard", 1.0},
}

var genericMaterial = materialChoice{"plywood", 0.75}

func (w *MaterialWorker) Name() string { return "material" }

func (w *MaterialWorker) CanHandle(intent string) bool {
	switch intent {
	case "design", "material", "refine":
		return true
	default:
		return false
	}
}

func (w *MaterialWorker) Topics() []string {
	return []string{"design_updated"}
}

func (w *MaterialWorker) HandleMessage(ctx context.Context, msg drawingboard.Message) (any, error) {
	return dispatchMessage(ctx, w, "materials", msg)
}

func (w *MaterialWorker) Propose(ctx context.Context, input string, wctx Context) (*Proposal, error) {
	docType, ok := documentType(wctx)
	if !ok {
		return &Proposal{
			Success:   false,
			Issues:    []string{"furniture type is not set yet"},
			NextSteps: []string{"choose a furniture type before picking materials"},
		}, nil
	}

	choice, known := defaultMaterials[docType]
	if !known {
		choice = genericMaterial
	}

	reasoning := fmt.Sprintf("cost-effective default for a %s", docType)
	if preferred, ok := preferredMaterial(wctx); ok {
		choice.material = preferred
		reasoning = fmt.Sprintf("preferred material %q from constraints", preferred)
	}

	var alternatives []map[string]any
	for _, alt := range rules.StrongerAlternatives[choice.material] {
		alternatives = append(alternatives, map[string]any{
			"materials": []string{alt},
		})
	}

	return &Proposal{
		Success: true,
		Updates: map[string]any{
			"materials":      []string{choice.material},
			"boardThickness": choice.thickness,
		},
		Reasoning:              reasoning,
		Confidence:             0.7,
		AlternativesConsidered: alternatives,
	}, nil
}

func preferredMaterial(wctx Context) (string, bool) {
	if v, ok := wctx.TurnConstraints["material.preferred"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	if v, ok := drawingboard.GetPath(wctx.Snapshot.Constraints, "material.preferred"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// validate checks that chosen materials have span data.
func (w *MaterialWorker) validate(req ValidationRequest) ValidationResult {
	material, ok := firstMaterial(req.Document)
	if !ok {
		return ValidationResult{Worker: w.Name(), Valid: true, Score: 1}
	}
	if _, known := rules.DefaultSpanTable()[material]; !known {
		return ValidationResult{
			Worker: w.Name(),
			Valid:  false,
			Score:  0.2,
			Issues: []string{fmt.Sprintf("unknown material %q", material)},
		}
	}
	return ValidationResult{Worker: w.Name(), Valid: true, Score: 1}
}

func firstMaterial(doc drawingboard.Document) (string, bool) {
	v, ok := doc["materials"]
	if !ok {
		return "", false
	}
	switch list := v.(type) {
	case []any:
		if len(list) == 0 {
			return "", false
		}
		s, ok := list[0].(string)
		return s, ok
	case []string:
		if len(list) == 0 {
			return "", false
		}
		return list[0], true
	default:
		return "", false
	}
}
