package rules

import (
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// joineryCompatRule checks that the chosen joint suits the primary material.
// Interlocking joints need solid wood; sheet goods want housed or mechanical
// joints. Mismatches are structural failures with an automatic fix to the
// recommended joint for the material.
type joineryCompatRule struct{}

func (r *joineryCompatRule) Name() string { return "joinery_material_compat" }

func (r *joineryCompatRule) Severity() drawingboard.Severity { return drawingboard.SeverityHigh }

func (r *joineryCompatRule) Reads() []string {
	return []string{"joinery.type", "materials"}
}

// jointNeedsHardwood lists joints whose strength depends on solid-wood
// fibre; they fail in MDF and particleboard.
var jointNeedsHardwood = map[string]bool{
	"mortise_tenon": true,
	"dovetail":      true,
}

func (r *joineryCompatRule) AppliesTo(doc drawingboard.Document) bool {
	_, hasJoint := stringAt(doc, "joinery.type")
	_, hasMaterial := primaryMaterial(doc)
	return hasJoint && hasMaterial
}

func (r *joineryCompatRule) Evaluate(doc drawingboard.Document) (Result, error) {
	joint, _ := stringAt(doc, "joinery.type")
	material, _ := primaryMaterial(doc)

	if !jointNeedsHardwood[joint] || hardwoods[material] {
		return Result{Valid: true}, nil
	}

	recommended := RecommendedJoinery(material)
	return Result{
		Valid: false,
		Message: fmt.Sprintf("%s joinery is not viable in %s; use %s or a hardwood",
			joint, material, recommended),
		Fix: func(d drawingboard.Document) drawingboard.Document {
			out := d.Clone()
			drawingboard.SetPath(out, "joinery.type", recommended)
			return out
		},
	}, nil
}
