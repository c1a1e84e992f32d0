package rules

import (
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// shelvingTypes are the furniture types whose horizontal members carry a
// distributed load across their full width.
var shelvingTypes = map[string]bool{
	"bookshelf": true,
	"shelf":     true,
	"shelving":  true,
	"cabinet":   true,
}

// shelfDeflectionRule checks that the shelf span does not exceed the maximum
// for the chosen material and board thickness. Failures are structural and
// block design validity.
type shelfDeflectionRule struct {
	table SpanTable
}

func (r *shelfDeflectionRule) Name() string { return "shelf_deflection" }

func (r *shelfDeflectionRule) Severity() drawingboard.Severity { return drawingboard.SeverityHigh }

func (r *shelfDeflectionRule) Reads() []string {
	return []string{"dimensions.width", "materials", "boardThickness"}
}

func (r *shelfDeflectionRule) AppliesTo(doc drawingboard.Document) bool {
	docType, ok := stringAt(doc, "type")
	if !ok || !shelvingTypes[docType] {
		return false
	}
	_, hasWidth := floatAt(doc, "dimensions.width")
	_, hasMaterial := primaryMaterial(doc)
	return hasWidth && hasMaterial
}

func (r *shelfDeflectionRule) Evaluate(doc drawingboard.Document) (Result, error) {
	span, _ := floatAt(doc, "dimensions.width")
	material, _ := primaryMaterial(doc)

	thickness, ok := floatAt(doc, "boardThickness")
	if !ok {
		thickness = 0.75
	}

	maxSpan, known := r.table.MaxSpan(material, thickness)
	if !known {
		return Result{}, fmt.Errorf("no span data for material %q at thickness %v", material, thickness)
	}

	if span <= maxSpan {
		return Result{Valid: true}, nil
	}

	return Result{
		Valid: false,
		Message: fmt.Sprintf("shelf span %.0f exceeds max %.0f for %s at %s thickness; reduce width or use a stronger material",
			span, maxSpan, material, ThicknessLabel(thickness)),
		Fix: func(d drawingboard.Document) drawingboard.Document {
			out := d.Clone()
			drawingboard.SetPath(out, "dimensions.width", maxSpan)
			return out
		},
	}, nil
}
