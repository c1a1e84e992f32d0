package rules

import (
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

const (
	maxOverallDimension = 120 // inches; anything larger will not fit a room
	maxOverallHeight    = 96
)

// dimensionSanityRule checks that every present dimension is positive and
// within room-scale bounds. Out-of-range dimensions are structural failures.
type dimensionSanityRule struct{}

func (r *dimensionSanityRule) Name() string { return "dimension_sanity" }

func (r *dimensionSanityRule) Severity() drawingboard.Severity { return drawingboard.SeverityHigh }

func (r *dimensionSanityRule) Reads() []string {
	return []string{"dimensions.width", "dimensions.height", "dimensions.depth"}
}

func (r *dimensionSanityRule) AppliesTo(doc drawingboard.Document) bool {
	_, ok := doc["dimensions"]
	return ok
}

func (r *dimensionSanityRule) Evaluate(doc drawingboard.Document) (Result, error) {
	limits := map[string]float64{
		"dimensions.width":  maxOverallDimension,
		"dimensions.height": maxOverallHeight,
		"dimensions.depth":  maxOverallDimension,
	}

	var oversized map[string]float64
	for path, limit := range limits {
		v, ok := floatAt(doc, path)
		if !ok {
			continue
		}
		if v <= 0 {
			// Nothing sensible to clamp a non-positive dimension to; the
			// proposing workers must resolve this one.
			return Result{
				Valid:   false,
				Message: fmt.Sprintf("%s must be positive, got %v", path, v),
			}, nil
		}
		if v > limit {
			if oversized == nil {
				oversized = make(map[string]float64)
			}
			oversized[path] = limit
		}
	}

	if len(oversized) == 0 {
		return Result{Valid: true}, nil
	}

	return Result{
		Valid:   false,
		Message: fmt.Sprintf("%d dimension(s) exceed room-scale limits", len(oversized)),
		Fix: func(d drawingboard.Document) drawingboard.Document {
			out := d.Clone()
			for path, limit := range oversized {
				drawingboard.SetPath(out, path, limit)
			}
			return out
		},
	}, nil
}
