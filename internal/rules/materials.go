package rules

import "strconv"

// Material data tables. These are engineering inputs, not algorithms: the
// span table can be overridden from configuration per deployment.

// SpanTable maps material -> board thickness label -> maximum unsupported
// shelf span in inches before deflection becomes unacceptable.
type SpanTable map[string]map[string]float64

// DefaultSpanTable returns conservative maximum spans for common shelf
// materials under a typical book load.
func DefaultSpanTable() SpanTable {
	return SpanTable{
		"particleboard": {"0.75": 18},
		"mdf":           {"0.5": 16, "0.75": 20, "1": 28},
		"plywood":       {"0.5": 24, "0.75": 30, "1": 36},
		"pine":          {"0.75": 36, "1": 44},
		"oak":           {"0.75": 42, "1": 52},
		"maple_hard":    {"0.75": 48, "1": 60},
	}
}

// ThicknessLabel normalizes a board thickness to its span table key,
// e.g. 0.75 -> "0.75", 1.0 -> "1".
func ThicknessLabel(thickness float64) string {
	return strconv.FormatFloat(thickness, 'f', -1, 64)
}

// MaxSpan looks up the maximum shelf span for a material at a thickness.
func (t SpanTable) MaxSpan(material string, thickness float64) (float64, bool) {
	byThickness, ok := t[material]
	if !ok {
		return 0, false
	}
	span, ok := byThickness[ThicknessLabel(thickness)]
	return span, ok
}

// StrongerAlternatives lists compatible substitute materials in preference
// order, strongest last-resort first. Used both by the deflection fix and by
// the coordinator's alternate-material variation.
var StrongerAlternatives = map[string][]string{
	"particleboard": {"plywood", "maple_hard"},
	"mdf":           {"plywood", "maple_hard"},
	"plywood":       {"oak", "maple_hard"},
	"pine":          {"oak", "maple_hard"},
	"oak":           {"maple_hard"},
	"maple_hard":    {"oak"},
}

// hardwoods can carry traditional interlocking joinery.
var hardwoods = map[string]bool{
	"oak":        true,
	"maple_hard": true,
}

// RecommendedJoinery maps material class to a structurally safe default
// joint for case goods.
func RecommendedJoinery(material string) string {
	if hardwoods[material] {
		return "mortise_tenon"
	}
	return "dado"
}
