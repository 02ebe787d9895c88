package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unlist-sh/unlist/internal/utils"
	"github.com/unlist-sh/unlist/pkg/broker"
)

// brokersCmd groups the broker catalog subcommands.
var brokersCmd = &cobra.Command{
	Use:   "brokers",
	Short: "Manage the data-broker catalog",
}

// brokersSyncCmd implements: unlist brokers sync
// Loads broker definitions from a catalog directory and stores them,
// replacing stored definitions whose version changed.
var brokersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load broker definitions into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = viper.GetString("brokers.dir")
		}
		if dir == "" {
			return fmt.Errorf("no catalog directory. Pass --dir or set brokers.dir in the config")
		}

		brokers, err := broker.LoadCatalog(dir)
		if err != nil {
			return err
		}
		if len(brokers) == 0 {
			return fmt.Errorf("no broker definitions found in %s", dir)
		}

		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		for _, b := range brokers {
			if _, err := db.UpsertBroker(cmd.Context(), b); err != nil {
				return fmt.Errorf("storing broker %s: %w", b.Name, err)
			}
			utils.Log.Debugf("stored broker %s v%s", b.Name, b.Version)
		}
		if err := db.EnsureScanJobs(cmd.Context(), time.Now()); err != nil {
			return err
		}

		fmt.Printf("Synced %d broker definition(s) from %s.\n", len(brokers), dir)
		return nil
	},
}

// brokersListCmd implements: unlist brokers list
var brokersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored broker definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		brokers, err := db.ListBrokers(cmd.Context())
		if err != nil {
			return err
		}
		if len(brokers) == 0 {
			fmt.Println("No brokers stored. Run 'unlist brokers sync' first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tURL\tVERSION\tPARENT\tMIRRORS\t")
		now := time.Now()
		for _, b := range brokers {
			active := 0
			for _, m := range b.MirrorSites {
				if m.ActiveAt(now) {
					active++
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t\n", b.Name, b.URL, b.Version, b.Parent, active)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brokersCmd)
	brokersCmd.AddCommand(brokersSyncCmd)
	brokersCmd.AddCommand(brokersListCmd)

	brokersSyncCmd.Flags().String("dir", "", "Directory holding broker definition JSON files")
}
