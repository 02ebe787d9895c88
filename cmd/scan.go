package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unlist-sh/unlist/internal/utils"
	"github.com/unlist-sh/unlist/pkg/queue"
	"github.com/unlist-sh/unlist/pkg/storage"
)

// scanCmd implements: unlist scan
// Runs one immediate scan batch over every broker and reports the results.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan every broker for records matching your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'unlist scan --help'", args[0])
		}

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

		batchErrs, err := runBatch(sched.RunManualScan)
		if err != nil {
			return err
		}
		printBatchResult("scan", batchErrs)

		matches, removed, err := db.MatchCounts()
		if err != nil {
			return err
		}
		fmt.Printf("\n%d record(s) found across brokers, %d already removed.\n", matches, removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

// requireProfile fails with a hint when no active profile query exists.
func requireProfile(ctx context.Context, db *storage.DB) error {
	queries, err := db.ListProfileQueries(ctx)
	if err != nil {
		return err
	}
	for _, q := range queries {
		if !q.Deprecated {
			return nil
		}
	}
	return fmt.Errorf("no profile configured. Run 'unlist profile set' first")
}

// runBatch drives one manual batch to completion.
func runBatch(start func(func(*queue.ErrorCollection), func()) error) (*queue.ErrorCollection, error) {
	done := make(chan struct{})
	var collected *queue.ErrorCollection
	if err := start(func(c *queue.ErrorCollection) { collected = c }, func() { close(done) }); err != nil {
		return nil, err
	}
	<-done
	return collected, nil
}

func printBatchResult(kind string, c *queue.ErrorCollection) {
	if !c.HasErrors() {
		fmt.Printf("%s batch completed.\n", kind)
		return
	}
	if c.OneTimeError != nil {
		utils.Log.Errorf("%s batch failed: %v", kind, c.OneTimeError)
		return
	}
	utils.Log.Warnf("%s batch completed with %d job error(s):", kind, len(c.OperationErrors))
	for _, err := range c.OperationErrors {
		utils.Log.Warnf("  %v", err)
	}
}
