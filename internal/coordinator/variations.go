package coordinator

import (
	"fmt"

	"github.com/tenonworks/tenon/internal/rules"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// variations sketches alternative takes on the committed design: stronger
// materials, one added feature, and a compact footprint. Every variation is
// checked against the rule engine; only ones free of high-severity findings
// are reported.
func (c *Coordinator) variations(snap *drawingboard.Snapshot) []Variation {
	var out []Variation

	if material, ok := primaryMaterial(snap.Document); ok {
		for _, alt := range rules.StrongerAlternatives[material] {
			if len(out) >= c.opts.MaxVariations {
				return out
			}
			doc := snap.Document.Clone()
			doc["materials"] = []any{alt}
			// Keep joinery consistent with the substituted material.
			if _, has := drawingboard.GetPath(doc, "joinery.type"); has {
				drawingboard.SetPath(doc, "joinery.type", rules.RecommendedJoinery(alt))
			}
			if v, ok := c.checkVariation("material_"+alt,
				fmt.Sprintf("same design in %s instead of %s", alt, material), doc); ok {
				out = append(out, v)
			}
		}
	}

	if len(out) < c.opts.MaxVariations && !hasFeature(snap.Document, "back_panel") {
		doc := snap.Document.Clone()
		addFeature(doc, "back_panel")
		if v, ok := c.checkVariation("back_panel",
			"same design with a back panel for racking stiffness", doc); ok {
			out = append(out, v)
		}
	}

	if len(out) < c.opts.MaxVariations {
		if width, ok := floatLeaf(snap.Document, "dimensions.width"); ok && width > 0 {
			doc := snap.Document.Clone()
			drawingboard.SetPath(doc, "dimensions.width", width*0.75)
			if v, ok := c.checkVariation("compact",
				fmt.Sprintf("narrower footprint at %.0f wide", width*0.75), doc); ok {
				out = append(out, v)
			}
		}
	}

	return out
}

// checkVariation admits a variation only when the rule engine finds no
// high-severity problems with it.
func (c *Coordinator) checkVariation(name, description string, doc drawingboard.Document) (Variation, bool) {
	conflicts := c.engine.Evaluate(doc)
	for _, conflict := range conflicts {
		if conflict.Severity == drawingboard.SeverityHigh {
			return Variation{}, false
		}
	}
	return Variation{
		Name:        name,
		Description: description,
		Document:    doc,
		Score:       rules.Score(conflicts),
	}, true
}

func primaryMaterial(doc drawingboard.Document) (string, bool) {
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

func hasFeature(doc drawingboard.Document, name string) bool {
	switch list := doc["features"].(type) {
	case []any:
		for _, f := range list {
			if s, ok := f.(string); ok && s == name {
				return true
			}
		}
	case []string:
		for _, f := range list {
			if f == name {
				return true
			}
		}
	}
	return false
}

func addFeature(doc drawingboard.Document, name string) {
	var list []any
	switch cur := doc["features"].(type) {
	case []any:
		list = append(list, cur...)
	case []string:
		for _, f := range cur {
			list = append(list, f)
		}
	}
	doc["features"] = append(list, name)
}

func floatLeaf(doc drawingboard.Document, path string) (float64, bool) {
	v, ok := drawingboard.GetPath(doc, path)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
