package printer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestSeverityTag(t *testing.T) {
	require.Contains(t, SeverityTag("high"), "HIGH")
	require.Contains(t, SeverityTag("medium"), "MEDIUM")
	require.Contains(t, SeverityTag("low"), "LOW")
}

func TestVerdict(t *testing.T) {
	require.True(t, strings.Contains(Verdict(true), "VALID"))
	require.True(t, strings.Contains(Verdict(false), "INVALID"))
}
