package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded scans",
		Long: `List the scans recorded with --save (or store.enabled), newest first.
Run IDs can be abbreviated to any unique prefix in other commands.`,
		Example: `  jarenums history
  jarenums history --limit 5
  jarenums history delete 3f2a`,
		Args: cobra.NoArgs,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of scans to list (0 for all)")

	cmd.AddCommand(newHistoryDeleteCmd())

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	runs, err := st.ListScans(historyLimit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No scans recorded.")
		return nil
	}

	fmt.Printf("%-8s  %-16s  %-9s  %6s  %8s  %9s  %s\n", "RUN", "STARTED", "STATUS", "ENUMS", "CLASSES", "DURATION", "ARCHIVE")
	fmt.Println(strings.Repeat("-", 90))
	for _, run := range runs {
		duration := "-"
		if !run.EndTime.IsZero() {
			duration = run.EndTime.Sub(run.StartTime).Round(time.Millisecond).String()
		}
		fmt.Printf("%-8s  %-16s  %-9s  %6d  %8s  %9s  %s\n",
			shortID(run.ID),
			run.StartTime.Local().Format("2006-01-02 15:04"),
			run.Status,
			run.EnumCount,
			humanize.Comma(int64(run.ClassesParsed)),
			duration,
			run.Archive,
		)
		if run.ErrorMessage != "" {
			fmt.Printf("          error: %s\n", run.ErrorMessage)
		}
	}
	return nil
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN-ID",
		Short: "Delete a recorded scan and its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			id, err := st.ResolveScanID(args[0])
			if err != nil {
				return err
			}
			if err := st.DeleteScan(id); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Deleted run %s\n", id)
			}
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
