package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/printer"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <version>",
	Short: "Restore the board to an earlier snapshot",
	Long: `Restore the drawing board to a snapshotted version. Snapshots are
taken automatically at a configurable version interval; rolling back
also releases all property locks.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	version, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[0], err)
	}

	ctx := context.Background()
	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.store.RollbackTo(ctx, version); err != nil {
		if drawingboard.IsSnapshotNotFound(err) {
			return printer.Error(
				"No snapshot for that version",
				fmt.Sprintf("Version %d was never snapshotted in session %q.", version, sess.cfg.Session),
				[]string{"Run 'tenon history' to see recent versions; snapshots exist at the configured interval."})
		}
		return err
	}

	printer.Success("Board restored to version %d\n", version)
	return nil
}
