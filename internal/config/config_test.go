package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "tenon.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `version: "1.0"
session: "workshop"
redis:
  addr: "localhost:6379"
workers:
  validation:
    priority: 40
    safety_critical: true
  dimension:
    priority: 30
  material:
    priority: 20
    defaults:
      materials: ["plywood"]
      boardThickness: 0.75
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "workshop", config.Session)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Len(t, config.Workers, 3)
	assert.Equal(t, 40, config.Workers["validation"].Priority)
	assert.True(t, config.Workers["validation"].SafetyCritical)
	assert.Equal(t, 0.75, config.Workers["material"].Defaults["boardThickness"])
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/tenon.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "version: [unclosed")

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_WorkerDefaultsApplied(t *testing.T) {
	configPath := writeConfig(t, `version: "1.0"
session: "workshop"
redis:
  addr: "localhost:6379"
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	// No workers section: the built-in set applies.
	assert.Equal(t, 40, config.Workers["validation"].Priority)
	assert.True(t, config.Workers["validation"].SafetyCritical)
	assert.Equal(t, 30, config.Workers["dimension"].Priority)
	assert.Equal(t, 20, config.Workers["material"].Priority)
	assert.Equal(t, 10, config.Workers["joinery"].Priority)
}

func TestLoad_SpanTableOverride(t *testing.T) {
	configPath := writeConfig(t, `version: "1.0"
session: "workshop"
redis:
  addr: "localhost:6379"
rules:
  span_table:
    bamboo:
      "0.75": 26
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, config.Rules)
	assert.Equal(t, 26.0, config.Rules.SpanTable["bamboo"]["0.75"])
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unsupported version",
			content: "version: \"2.0\"\nsession: s\nredis:\n  addr: a\n",
			wantErr: "unsupported version",
		},
		{
			name:    "missing session",
			content: "version: \"1.0\"\nredis:\n  addr: a\n",
			wantErr: "session name is required",
		},
		{
			name:    "missing redis addr",
			content: "version: \"1.0\"\nsession: s\n",
			wantErr: "redis.addr is required",
		},
		{
			name: "no safety critical worker",
			content: `version: "1.0"
session: s
redis:
  addr: a
workers:
  dimension:
    priority: 30
`,
			wantErr: "safety_critical",
		},
		{
			name: "negative priority",
			content: `version: "1.0"
session: s
redis:
  addr: a
workers:
  validation:
    priority: -1
    safety_critical: true
`,
			wantErr: "priority must be >= 0",
		},
		{
			name: "bad span table entry",
			content: `version: "1.0"
session: s
redis:
  addr: a
rules:
  span_table:
    mdf:
      "0.75": 0
`,
			wantErr: "span_table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "workshop", cfg.Session)
	assert.NotEmpty(t, cfg.Workers)
	assert.NoError(t, cfg.Validate())
}
