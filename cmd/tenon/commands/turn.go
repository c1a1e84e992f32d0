package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/coordinator"
	"github.com/tenonworks/tenon/internal/printer"
)

var (
	turnJSON        bool
	turnIntent      string
	turnConstraints []string
)

var turnCmd = &cobra.Command{
	Use:   "turn <request>",
	Short: "Run one design turn against the session",
	Long: `Run one design turn: the request is planned across the registered
workers, their proposals are committed to the drawing board, rule
conflicts are resolved, and the validated result is printed.

Constraints persist on the board for later turns:

  tenon turn "design a bookshelf" --constraint dimensional.max_width=30
  tenon turn "make it taller"`,
	Args: cobra.ExactArgs(1),
	RunE: runTurn,
}

func init() {
	turnCmd.Flags().BoolVar(&turnJSON, "json", false, "Output the full turn result as JSON")
	turnCmd.Flags().StringVar(&turnIntent, "intent", "", "Intent override (design, resize, material, joinery, validate); inferred from the request when empty")
	turnCmd.Flags().StringArrayVar(&turnConstraints, "constraint", nil, "Constraint as path=value (repeatable)")
	rootCmd.AddCommand(turnCmd)
}

func runTurn(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	constraints, err := parseConstraints(turnConstraints)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	result, err := sess.coordinator.ProcessTurn(ctx, coordinator.TurnRequest{
		Intent:      turnIntent,
		Input:       args[0],
		Constraints: constraints,
	})
	if err != nil {
		return printer.Error("Turn failed", err.Error(), nil)
	}

	if turnJSON {
		raw, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(raw))
		return nil
	}

	renderTurn(result)
	return nil
}

func renderTurn(result *coordinator.TurnResult) {
	for _, report := range result.Workers {
		switch {
		case report.Error != "":
			printer.Warning("%s: %s\n", report.Worker, report.Error)
		case report.Applied:
			printer.Success("%s: %s\n", report.Worker, report.Reasoning)
		default:
			printer.Info("  %s: no change", report.Worker)
			if len(report.Issues) > 0 {
				printer.Info(" (%s)", strings.Join(report.Issues, "; "))
			}
			printer.Println()
		}
	}

	if len(result.Conflicts) > 0 {
		printer.Println()
		printer.Warning("Unresolved conflicts:\n")
		for _, c := range result.Conflicts {
			printer.Printf("  %s %s\n", printer.SeverityTag(string(c.Severity)), c.Description)
		}
	}

	printer.Println()
	printer.Printf("Validation: %s (score %s)\n", printer.Verdict(result.Validation.Valid), printer.Score(result.Validation.Score))
	for _, issue := range result.Validation.Issues {
		printer.Printf("  - %s\n", issue)
	}

	if len(result.Variations) > 0 {
		printer.Println()
		printer.Println("Variations:")
		for _, v := range result.Variations {
			printer.Printf("  %s: %s (score %s)\n", v.Name, v.Description, printer.Score(v.Score))
		}
	}

	printer.Println()
	raw, err := json.MarshalIndent(result.Document, "", "  ")
	if err == nil {
		printer.Printf("Design (version %d):\n%s\n", result.Version, raw)
	}
}

// parseConstraints turns path=value flags into board constraint updates,
// preferring numeric and boolean values over strings.
func parseConstraints(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(raw))
	for _, entry := range raw {
		path, value, found := strings.Cut(entry, "=")
		if !found || path == "" {
			return nil, fmt.Errorf("invalid constraint %q, expected path=value", entry)
		}
		out[path] = parseScalar(value)
	}
	return out, nil
}

func parseScalar(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
