package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/printer"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the session and start from an empty board",
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.store.Reset(ctx); err != nil {
		return err
	}

	printer.Success("Session %q reset to an empty board\n", sess.cfg.Session)
	return nil
}
