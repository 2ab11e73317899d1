package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/strata/pkg/strata"
	"github.com/cuemby/strata/pkg/storage"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List every run in a database and its lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		durability, _ := cmd.Flags().GetString("durability")

		db, err := strata.Open(dataDir, storage.Options{Durability: durability})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		runs, err := db.Runs.List()
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}

		fmt.Printf("%-24s %-12s %-10s %s\n", "RUN ID", "STATE", "EVENTS", "TAGS")
		for _, r := range runs {
			count, err := db.Events.Len(r.ID)
			if err != nil {
				count = 0
			}
			fmt.Printf("%-24s %-12s %-10d %v\n", r.ID, r.State.String(), count, r.Tags)
		}
		fmt.Printf("\n%d run(s) total\n", len(runs))
		return nil
	},
}

func init() {
	inspectCmd.Flags().String("data-dir", "", "Database directory to inspect")
	inspectCmd.Flags().String("durability", "strict", "Durability mode to open with (in_memory, buffered, strict)")
	_ = inspectCmd.MarkFlagRequired("data-dir")
}
