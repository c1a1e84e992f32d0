package drawingboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical paths", "dimensions.width", "dimensions.width", true},
		{"parent covers child", "dimensions", "dimensions.width", true},
		{"child collides with parent", "dimensions.width", "dimensions", true},
		{"siblings are disjoint", "dimensions.width", "dimensions.height", false},
		{"shared string prefix is not a path prefix", "dim", "dimensions", false},
		{"unrelated trees", "materials", "dimensions.width", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PathsOverlap(tt.a, tt.b))
			assert.Equal(t, tt.want, PathsOverlap(tt.b, tt.a))
		})
	}
}

func TestGetSetPath(t *testing.T) {
	doc := map[string]any{}

	SetPath(doc, "dimensions.width", 48)
	SetPath(doc, "dimensions.height", 72)
	SetPath(doc, "type", "bookshelf")

	v, ok := GetPath(doc, "dimensions.width")
	require.True(t, ok)
	assert.Equal(t, 48, v)

	_, ok = GetPath(doc, "dimensions.depth")
	assert.False(t, ok)

	_, ok = GetPath(doc, "type.sub")
	assert.False(t, ok)

	// Writing through a scalar replaces it with a map.
	SetPath(doc, "type.category", "storage")
	v, ok = GetPath(doc, "type.category")
	require.True(t, ok)
	assert.Equal(t, "storage", v)
}

func TestFlattenUpdates(t *testing.T) {
	leaves := FlattenUpdates(map[string]any{
		"dimensions": map[string]any{"width": 48, "height": 72},
		"materials":  []string{"mdf"},
	})

	require.Len(t, leaves, 3)
	assert.Equal(t, "dimensions.height", leaves[0].Path)
	assert.Equal(t, "dimensions.width", leaves[1].Path)
	assert.Equal(t, "materials", leaves[2].Path)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(48, float64(48)))
	assert.True(t, valuesEqual([]string{"mdf"}, []any{"mdf"}))
	assert.False(t, valuesEqual(48, 49))
	assert.False(t, valuesEqual("mdf", 48))
	assert.True(t, valuesEqual(
		map[string]any{"width": 48},
		map[string]any{"width": float64(48)},
	))
}
