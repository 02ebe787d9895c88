package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints per-broker match and removal statistics.",
	Long:  "Prints per-broker match and removal statistics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "BROKER\tMATCHES\tREMOVED\t")

		var totalMatches, totalRemoved int
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t\n", s.BrokerName, s.MatchCount, s.OptedOutCount)
			totalMatches += s.MatchCount
			totalRemoved += s.OptedOutCount
		}

		fmt.Fprintln(w, " \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t\n", totalMatches, totalRemoved)

		w.Flush()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
