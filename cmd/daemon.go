package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unlist-sh/unlist/internal/utils"
)

// daemonCmd implements: unlist daemon
// Runs the protection loop until interrupted: an immediate first pass, then
// scheduled scan+opt-out batches on the configured cadence.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the protection loop on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := requireProfile(cmd.Context(), db); err != nil {
			return err
		}
		if err := db.EnsureScanJobs(cmd.Context(), time.Now()); err != nil {
			return err
		}

		sched, pixels := buildScheduler(db)
		defer pixels.Close()

		if err := sched.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		utils.Log.Info("shutting down, waiting for the running batch to stop")
		sched.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
