package commands

import (
	"context"
	"encoding/json"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/printer"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream board commits in real time",
	Long: `Subscribe to the session's change events channel and print every
committed transaction as it happens: the worker, the new version, and
the paths it changed. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	pubsub := sess.store.SubscribeChangeEvents(ctx)
	defer pubsub.Close()

	printer.Step("Watching session %q (Ctrl-C to stop)\n", sess.cfg.Session)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			printer.Println()
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event drawingboard.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				printer.Warning("unparseable change event: %v\n", err)
				continue
			}
			at := time.UnixMilli(event.AtMs).Format("15:04:05")
			printer.Printf("%s  v%-4d %-12s %s", at, event.Version, event.Worker, strings.Join(event.Paths, ", "))
			if event.Reason != "" {
				printer.Printf("  (%s)", event.Reason)
			}
			printer.Println()
		}
	}
}
