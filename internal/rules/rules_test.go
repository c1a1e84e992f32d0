package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

func bookshelfDoc(width float64, material string, thickness float64) drawingboard.Document {
	return drawingboard.Document{
		"type": "bookshelf",
		"dimensions": map[string]any{
			"width":  width,
			"height": 72.0,
			"depth":  12.0,
		},
		"materials":      []any{material},
		"boardThickness": thickness,
	}
}

func TestShelfDeflection(t *testing.T) {
	engine := NewEngine(&shelfDeflectionRule{table: DefaultSpanTable()})

	t.Run("mdf at 48 inches fails high severity", func(t *testing.T) {
		conflicts := engine.Evaluate(bookshelfDoc(48, "mdf", 0.75))
		require.Len(t, conflicts, 1)
		c := conflicts[0]
		assert.Equal(t, drawingboard.ConflictRuleViolation, c.Type)
		assert.Equal(t, drawingboard.SeverityHigh, c.Severity)
		assert.Equal(t, "shelf_deflection", c.Rule)
		require.NotNil(t, c.AutoFix)

		// The fix reduces width to the max span and leaves the input alone.
		doc := bookshelfDoc(48, "mdf", 0.75)
		fixed := c.AutoFix(doc)
		width, ok := drawingboard.GetPath(fixed, "dimensions.width")
		require.True(t, ok)
		assert.Equal(t, float64(20), width)
		orig, _ := drawingboard.GetPath(doc, "dimensions.width")
		assert.Equal(t, float64(48), orig)
	})

	t.Run("hard maple at 48 inches passes", func(t *testing.T) {
		conflicts := engine.Evaluate(bookshelfDoc(48, "maple_hard", 0.75))
		assert.Empty(t, conflicts)
	})

	t.Run("not applicable to tables", func(t *testing.T) {
		doc := bookshelfDoc(48, "mdf", 0.75)
		doc["type"] = "table"
		assert.Empty(t, engine.Evaluate(doc))
	})

	t.Run("unknown material yields rule error not panic", func(t *testing.T) {
		conflicts := engine.Evaluate(bookshelfDoc(48, "unobtainium", 0.75))
		require.Len(t, conflicts, 1)
		assert.Equal(t, drawingboard.ConflictRuleError, conflicts[0].Type)
	})
}

func TestDimensionSanity(t *testing.T) {
	engine := NewEngine(&dimensionSanityRule{})

	t.Run("oversized dimension is clamped by the fix", func(t *testing.T) {
		doc := bookshelfDoc(200, "mdf", 0.75)
		conflicts := engine.Evaluate(doc)
		require.Len(t, conflicts, 1)
		require.NotNil(t, conflicts[0].AutoFix)

		fixed := conflicts[0].AutoFix(doc)
		width, _ := drawingboard.GetPath(fixed, "dimensions.width")
		assert.Equal(t, float64(120), width)
	})

	t.Run("non-positive dimension has no fix", func(t *testing.T) {
		conflicts := engine.Evaluate(bookshelfDoc(-3, "mdf", 0.75))
		require.Len(t, conflicts, 1)
		assert.Nil(t, conflicts[0].AutoFix)
	})
}

func TestJoineryCompat(t *testing.T) {
	engine := NewEngine(&joineryCompatRule{})

	doc := drawingboard.Document{
		"type":      "table",
		"materials": []any{"mdf"},
		"joinery":   map[string]any{"type": "mortise_tenon"},
	}

	conflicts := engine.Evaluate(doc)
	require.Len(t, conflicts, 1)
	require.NotNil(t, conflicts[0].AutoFix)

	fixed := conflicts[0].AutoFix(doc)
	joint, _ := drawingboard.GetPath(fixed, "joinery.type")
	assert.Equal(t, "dado", joint)

	t.Run("hardwood carries the joint", func(t *testing.T) {
		doc := drawingboard.Document{
			"type":      "table",
			"materials": []any{"oak"},
			"joinery":   map[string]any{"type": "mortise_tenon"},
		}
		assert.Empty(t, engine.Evaluate(doc))
	})
}

func TestProportionIsAestheticOnly(t *testing.T) {
	engine := NewEngine(&proportionRule{})

	doc := drawingboard.Document{
		"dimensions": map[string]any{"width": 100.0, "height": 10.0},
	}
	conflicts := engine.Evaluate(doc)
	require.Len(t, conflicts, 1)
	assert.Equal(t, drawingboard.SeverityLow, conflicts[0].Severity)
	assert.Nil(t, conflicts[0].AutoFix)
}

// panicRule exercises isolation of broken rules.
type panicRule struct{}

func (panicRule) Name() string                                 { return "broken" }
func (panicRule) Severity() drawingboard.Severity              { return drawingboard.SeverityHigh }
func (panicRule) Reads() []string                              { return nil }
func (panicRule) AppliesTo(drawingboard.Document) bool         { return true }
func (panicRule) Evaluate(drawingboard.Document) (Result, error) {
	panic("rule bug")
}

func TestBrokenRuleDoesNotBlockOthers(t *testing.T) {
	engine := NewEngine(panicRule{}, &shelfDeflectionRule{table: DefaultSpanTable()})

	conflicts := engine.Evaluate(bookshelfDoc(48, "mdf", 0.75))
	require.Len(t, conflicts, 2)

	byType := map[drawingboard.ConflictType]drawingboard.Conflict{}
	for _, c := range conflicts {
		byType[c.Type] = c
	}
	assert.Contains(t, byType, drawingboard.ConflictRuleError)
	assert.Contains(t, byType, drawingboard.ConflictRuleViolation)
	assert.Contains(t, byType[drawingboard.ConflictRuleError].Description, "broken")
}

func TestEvaluateOrdersBySeverity(t *testing.T) {
	engine := NewEngine(&proportionRule{}, &shelfDeflectionRule{table: DefaultSpanTable()})

	doc := bookshelfDoc(48, "mdf", 0.75)
	drawingboard.SetPath(doc, "dimensions.height", 10.0)

	conflicts := engine.Evaluate(doc)
	require.Len(t, conflicts, 2)
	assert.Equal(t, drawingboard.SeverityHigh, conflicts[0].Severity)
	assert.Equal(t, drawingboard.SeverityLow, conflicts[1].Severity)
}

func TestSpanTable(t *testing.T) {
	table := DefaultSpanTable()

	span, ok := table.MaxSpan("mdf", 0.75)
	require.True(t, ok)
	assert.Equal(t, float64(20), span)

	span, ok = table.MaxSpan("maple_hard", 1.0)
	require.True(t, ok)
	assert.Equal(t, float64(60), span)

	_, ok = table.MaxSpan("mdf", 0.33)
	assert.False(t, ok)
}
