package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// optoutCmd implements: unlist optout
// Runs one immediate opt-out batch for every matched record still listed.
var optoutCmd = &cobra.Command{
	Use:   "optout",
	Short: "File opt-out requests for every matched record",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := requireProfile(cmd.Context(), db); err != nil {
			return err
		}

		matches, removed, err := db.MatchCounts()
		if err != nil {
			return err
		}
		if matches == 0 {
			fmt.Println("No matched records yet. Run 'unlist scan' first.")
			return nil
		}
		if matches == removed {
			fmt.Println("Every matched record is already removed.")
			return nil
		}

		sched, pixels := buildScheduler(db)
		defer pixels.Close()

		batchErrs, err := runBatch(sched.RunManualOptOuts)
		if err != nil {
			return err
		}
		printBatchResult("opt-out", batchErrs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(optoutCmd)
}
