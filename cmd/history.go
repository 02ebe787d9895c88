package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// historyCmd implements: unlist history
// Prints the most recent job events, newest first.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent scan and opt-out events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := db.RecentHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events recorded yet.")
			return nil
		}

		brokers, err := db.ListBrokers(cmd.Context())
		if err != nil {
			return err
		}
		names := make(map[int64]string, len(brokers))
		for _, b := range brokers {
			names[b.ID] = b.Name
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "WHEN\tBROKER\tEVENT\tDETAIL\t")
		for _, ev := range events {
			name := names[ev.BrokerID]
			if name == "" {
				name = fmt.Sprintf("broker#%d", ev.BrokerID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
				ev.Timestamp.Format("2006-01-02 15:04"), name, ev.Type, ev.Detail)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 50, "Maximum number of events to show")
}
