package worker

import (
	"context"
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// DimensionWorker proposes overall width/height/depth from a per-type sizing
// table, clamped by any dimensional constraints already on the board.
type DimensionWorker struct{}

type sizing struct {
	width, height, depth float64
}

var defaultSizes = map[string]sizing{
	"bookshelf": {48, 72, 12},
	"shelf":     {36, 8, 10},
	"cabinet":   {36, 84, 24},
	"table":     {60, 30, 36},
	"desk":      {60, 29, 30},
	"chair":     {18, 32, 18},
}

// genericSize covers furniture types without a table entry.
var genericSize = sizing{36, 30, 18}

func (w *DimensionWorker) Name() string { return "dimension" }

func (w *DimensionWorker) CanHandle(intent string) bool {
	switch intent {
	case "design", "dimension", "resize", "refine":
		return true
	default:
		return false
	}
}

func (w *DimensionWorker) Topics() []string {
	return []string{"design_updated"}
}

func (w *DimensionWorker) HandleMessage(ctx context.Context, msg drawingboard.Message) (any, error) {
	return dispatchMessage(ctx, w, "dimensions", msg)
}

func (w *DimensionWorker) Propose(ctx context.Context, input string, wctx Context) (*Proposal, error) {
	docType, ok := documentType(wctx)
	if !ok {
		return &Proposal{
			Success:   false,
			Issues:    []string{"furniture type is not set yet"},
			NextSteps: []string{"choose a furniture type before sizing"},
		}, nil
	}

	size, known := defaultSizes[docType]
	if !known {
		size = genericSize
	}

	reasoning := fmt.Sprintf("standard %s proportions", docType)
	if maxWidth, ok := constraintFloat(wctx, "dimensional.max_width"); ok && size.width > maxWidth {
		size.width = maxWidth
		reasoning += fmt.Sprintf(", width clamped to %.0f by constraint", maxWidth)
	}
	if maxHeight, ok := constraintFloat(wctx, "dimensional.max_height"); ok && size.height > maxHeight {
		size.height = maxHeight
		reasoning += fmt.Sprintf(", height clamped to %.0f by constraint", maxHeight)
	}

	return &Proposal{
		Success: true,
		Updates: map[string]any{
			"dimensions.width":  size.width,
			"dimensions.height": size.height,
			"dimensions.depth":  size.depth,
		},
		Reasoning:  reasoning,
		Confidence: 0.8,
		AlternativesConsidered: []map[string]any{
			{"dimensions.width": size.width * 0.75, "dimensions.height": size.height},
			{"dimensions.width": size.width, "dimensions.height": size.height * 1.25},
		},
	}, nil
}

// validate answers bus validation requests with a basic dimension check.
func (w *DimensionWorker) validate(req ValidationRequest) ValidationResult {
	for _, path := range []string{"dimensions.width", "dimensions.height", "dimensions.depth"} {
		v, ok := drawingboard.GetPath(req.Document, path)
		if !ok {
			continue
		}
		f, isNum := asFloat(v)
		if !isNum || f <= 0 {
			return ValidationResult{
				Worker: w.Name(),
				Valid:  false,
				Score:  0,
				Issues: []string{fmt.Sprintf("%s must be a positive number", path)},
			}
		}
	}
	return ValidationResult{Worker: w.Name(), Valid: true, Score: 1}
}
