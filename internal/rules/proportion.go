package rules

import (
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// proportionRule flags visually awkward width/height ratios. Aesthetic only:
// low severity, never blocks validity, and carries no fix.
type proportionRule struct{}

const (
	minAspect = 0.25
	maxAspect = 4.0
)

func (r *proportionRule) Name() string { return "proportion" }

func (r *proportionRule) Severity() drawingboard.Severity { return drawingboard.SeverityLow }

func (r *proportionRule) Reads() []string {
	return []string{"dimensions.width", "dimensions.height"}
}

func (r *proportionRule) AppliesTo(doc drawingboard.Document) bool {
	_, hasWidth := floatAt(doc, "dimensions.width")
	_, hasHeight := floatAt(doc, "dimensions.height")
	return hasWidth && hasHeight
}

func (r *proportionRule) Evaluate(doc drawingboard.Document) (Result, error) {
	width, _ := floatAt(doc, "dimensions.width")
	height, _ := floatAt(doc, "dimensions.height")
	if height == 0 {
		return Result{Valid: true}, nil
	}

	aspect := width / height
	if aspect >= minAspect && aspect <= maxAspect {
		return Result{Valid: true}, nil
	}

	return Result{
		Valid: false,
		Message: fmt.Sprintf("width/height ratio %.2f looks unbalanced; consider proportions between %.2f and %.1f",
			aspect, minAspect, maxAspect),
	}, nil
}
