package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unlist-sh/unlist/pkg/profile"
)

// profileCmd groups the profile subcommands.
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the profile your records are matched against",
}

// profileSetCmd implements: unlist profile set
// Replaces the stored profile. One query is created per city; queries that
// no longer match are deprecated, not deleted, so their in-flight opt-outs
// finish.
var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the profile to scan for",
	RunE: func(cmd *cobra.Command, args []string) error {
		firstName, _ := cmd.Flags().GetString("first-name")
		middleName, _ := cmd.Flags().GetString("middle-name")
		lastName, _ := cmd.Flags().GetString("last-name")
		cities, _ := cmd.Flags().GetStringSlice("city")
		state, _ := cmd.Flags().GetString("state")
		birthYear, _ := cmd.Flags().GetInt("birth-year")

		if birthYear < 1900 || birthYear > time.Now().Year() {
			return fmt.Errorf("birth year %d is not plausible", birthYear)
		}

		var queries []profile.Query
		for _, city := range cities {
			q := profile.Query{
				FirstName: firstName,
				LastName:  lastName,
				City:      city,
				State:     state,
				BirthYear: birthYear,
			}
			if middleName != "" {
				m := middleName
				q.MiddleName = &m
			}
			queries = append(queries, q)
		}

		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := db.ReplaceProfileQueries(cmd.Context(), queries); err != nil {
			return err
		}
		if err := db.EnsureScanJobs(cmd.Context(), time.Now()); err != nil {
			return err
		}

		fmt.Printf("Profile saved: %d quer%s. Run 'unlist scan' to search for your records.\n",
			len(queries), pluralY(len(queries)))
		return nil
	},
}

// profileShowCmd implements: unlist profile show
var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored profile queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		queries, err := db.ListProfileQueries(cmd.Context())
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			fmt.Println("No profile configured. Run 'unlist profile set' first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tCITY\tSTATE\tBIRTH YEAR\tSTATUS\t")
		for _, q := range queries {
			status := "active"
			if q.Deprecated {
				status = "deprecated"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n", q.FullName(), q.City, q.State, q.BirthYear, status)
		}
		w.Flush()
		return nil
	},
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)

	profileSetCmd.Flags().String("first-name", "", "First name")
	profileSetCmd.Flags().String("middle-name", "", "Middle name (optional)")
	profileSetCmd.Flags().String("last-name", "", "Last name")
	profileSetCmd.Flags().StringSlice("city", nil, "City lived in (repeatable)")
	profileSetCmd.Flags().String("state", "", "State abbreviation (e.g. TX)")
	profileSetCmd.Flags().Int("birth-year", 0, "Birth year")
	profileSetCmd.MarkFlagRequired("first-name")
	profileSetCmd.MarkFlagRequired("last-name")
	profileSetCmd.MarkFlagRequired("city")
	profileSetCmd.MarkFlagRequired("state")
	profileSetCmd.MarkFlagRequired("birth-year")
}
