package commands

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/printer"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, board, and worker status",
	Long: `Show the current session: board version, turns processed, and a
per-worker table with registration and delivery counters.

Use --json for machine-readable output.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	status, err := sess.coordinator.Status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		raw, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(raw))
		return nil
	}

	printer.Printf("Session:  %s\n", status.Session)
	printer.Printf("Version:  %d\n", status.Version)
	printer.Printf("Turns:    %d\n", status.Turns)
	printer.Printf("Queue:    %d pending, %d dead-lettered\n\n", status.Bus.QueueDepth, status.Bus.DeadLetters)

	names := make([]string, 0, len(status.Bus.Workers))
	for name := range status.Bus.Workers {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Worker", "Priority", "Queries", "Failures", "Retries", "Dead-letters"})
	for _, name := range names {
		w := status.Bus.Workers[name]
		label := name
		if w.SafetyCritical {
			label += " *"
		}
		table.Append([]string{
			label,
			strconv.Itoa(w.Priority),
			strconv.FormatInt(w.Queries, 10),
			strconv.FormatInt(w.Failures, 10),
			strconv.FormatInt(w.Retries, 10),
			strconv.FormatInt(w.DeadLetters, 10),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	printer.Println("\n* safety-critical validator")
	return nil
}
