package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/printer"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent board changes, newest first",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of changes to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	records, err := sess.store.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		printer.Info("No changes recorded yet.\n")
		return nil
	}

	for _, r := range records {
		at := time.UnixMilli(r.TimestampMs).Format("15:04:05")
		printer.Printf("%s  v%-4d %-12s %s: %s -> %s\n",
			at, r.Version, r.Worker, r.Path, compactJSON(r.PreviousValue), compactJSON(r.NewValue))
	}
	return nil
}

func compactJSON(v any) string {
	if v == nil {
		return "∅"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
