// Package rules implements the rule engine consumed by the coordinator: a
// set of predicates over the design document, each optionally carrying a
// pure corrective transform. Engineering limits (span tables, material
// compatibility) are data, not control flow, and can be overridden from
// configuration.
package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// ErrRuleEvaluation wraps a panic or error raised by a rule itself. A broken
// rule is reported as a conflict and never blocks evaluation of the others.
var ErrRuleEvaluation = errors.New("rule evaluation failed")

// Result is a rule's judgement of a document. An invalid result may carry a
// Fix: a pure function from document to corrected document.
type Result struct {
	Valid   bool
	Message string
	Fix     drawingboard.FixFunc
}

// Rule is a predicate over the design document plus an optional automatic
// corrective transform.
type Rule interface {
	// Name identifies the rule in conflicts and logs.
	Name() string

	// Severity classifies failures of this rule. Structural and safety
	// rules are high and block design validity; aesthetic rules are low
	// and only generate suggestions.
	Severity() drawingboard.Severity

	// Reads lists the dotted document paths the rule depends on, used to
	// attribute conflicts to the workers that wrote those paths.
	Reads() []string

	// AppliesTo reports whether the rule is relevant to this document.
	AppliesTo(doc drawingboard.Document) bool

	// Evaluate judges the document. Only called when AppliesTo is true.
	Evaluate(doc drawingboard.Document) (Result, error)
}

// Engine evaluates all applicable rules against a document snapshot.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over an explicit rule set.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// DefaultEngine builds the standard furniture rule set over the given span
// table.
func DefaultEngine(table SpanTable) *Engine {
	return NewEngine(
		&shelfDeflectionRule{table: table},
		&dimensionSanityRule{},
		&joineryCompatRule{},
		&proportionRule{},
	)
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate runs every applicable rule against the document and returns one
// conflict per failing rule, highest severity first. A rule that errors or
// panics yields a rule_error conflict instead of aborting the pass.
func (e *Engine) Evaluate(doc drawingboard.Document) []drawingboard.Conflict {
	var conflicts []drawingboard.Conflict

	for _, r := range e.rules {
		res, err := evaluateRule(r, doc)
		if err != nil {
			if errors.Is(err, errNotApplicable) {
				continue
			}
			conflicts = append(conflicts, drawingboard.Conflict{
				Type:        drawingboard.ConflictRuleError,
				Severity:    drawingboard.SeverityMedium,
				Rule:        r.Name(),
				Description: err.Error(),
			})
			continue
		}
		if res.Valid {
			continue
		}
		conflicts = append(conflicts, drawingboard.Conflict{
			Type:        drawingboard.ConflictRuleViolation,
			Severity:    r.Severity(),
			Rule:        r.Name(),
			Description: res.Message,
			AutoFix:     res.Fix,
		})
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Severity.Rank() > conflicts[j].Severity.Rank()
	})
	return conflicts
}

// Score maps a conflict set to a [0,1] validation score: high severity
// findings cost 0.4 each, medium 0.2, low 0.05.
func Score(conflicts []drawingboard.Conflict) float64 {
	score := 1.0
	for _, c := range conflicts {
		switch c.Severity {
		case drawingboard.SeverityHigh:
			score -= 0.4
		case drawingboard.SeverityMedium:
			score -= 0.2
		case drawingboard.SeverityLow:
			score -= 0.05
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// errNotApplicable signals evaluateRule that AppliesTo returned false.
var errNotApplicable = errors.New("rule not applicable")

// evaluateRule shields the engine from panicking rules.
func evaluateRule(r Rule, doc drawingboard.Document) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: rule %q panicked: %v", ErrRuleEvaluation, r.Name(), rec)
		}
	}()

	if !r.AppliesTo(doc) {
		return Result{}, errNotApplicable
	}

	res, evalErr := r.Evaluate(doc)
	if evalErr != nil {
		return Result{}, fmt.Errorf("%w: rule %q: %v", ErrRuleEvaluation, r.Name(), evalErr)
	}
	return res, nil
}

// floatAt extracts a numeric leaf from the document.
func floatAt(doc drawingboard.Document, path string) (float64, bool) {
	v, ok := drawingboard.GetPath(doc, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// stringAt extracts a string leaf from the document.
func stringAt(doc drawingboard.Document, path string) (string, bool) {
	v, ok := drawingboard.GetPath(doc, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// primaryMaterial returns the first entry of the materials array.
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
