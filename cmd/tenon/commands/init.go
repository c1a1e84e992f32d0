package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/printer"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter tenon.yml in the current directory",
	RunE:  runInit,
}

// starterConfig is the scaffolded tenon.yml: the default stack spelled out
// so users have something concrete to edit.
const starterConfig = `version: "1.0"
session: "workshop"

redis:
  addr: "localhost:6379"

# Worker registrations. Priority orders queue drain and two-way conflict
# arbitration; defaults are the fallback proposal used when a worker keeps
# failing; safety_critical validators fail a turn loudly when unreachable.
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
  joinery:
    priority: 10

# Optional overrides, shown with their defaults:
#
# store:
#   lock_ttl_ms: 5000
#   history_capacity: 100
#   snapshot_interval: 10
#   debounce_ms: 50
#
# bus:
#   tick_ms: 10
#   batch_size: 8
#   max_retries: 3
#   default_timeout_ms: 5000
#   cache_ttl_ms: 300000
#
# coordinator:
#   max_resolution_passes: 3
#   max_transact_retries: 3
#   max_variations: 3
#
# rules:
#   span_table:
#     bamboo:
#       "0.75": 26
`

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return printer.Error(
			"Configuration already exists",
			configPath+" is already present.",
			[]string{"Edit it directly, or remove it first to scaffold a fresh one."})
	}

	if err := os.WriteFile(configPath, []byte(starterConfig), 0644); err != nil {
		return err
	}

	printer.Success("Wrote %s\n", configPath)
	printer.Info("Try: tenon turn \"design a bookshelf\"\n")
	return nil
}
