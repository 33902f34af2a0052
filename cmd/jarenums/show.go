package main

import (
	"fmt"
	"os"

	"github.com/BadgerOps/jarenums/internal/store"
	"github.com/spf13/cobra"
)

var (
	showOutput      string
	showFormat      string
	showCompression string
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show RUN-ID",
		Short: "Print the report of a recorded scan",
		Long: `Render the stored report of a scan recorded with --save. RUN-ID may be
any unique prefix of the run ID shown by "jarenums history".`,
		Example: `  jarenums show 3f2a
  jarenums show 3f2a --format yaml
  jarenums show 3f2a --output enums.json.xz`,
		Args: cobra.ExactArgs(1),
		RunE: showRun,
	}

	cmd.Flags().StringVarP(&showOutput, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().StringVar(&showFormat, "format", "", "report format (json, yaml)")
	cmd.Flags().StringVar(&showCompression, "compression", "", "report compression (none, zstd, xz)")

	return cmd
}

func showRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	st, err := openStore()
	if err != nil {
		return err
	}

	id, err := st.ResolveScanID(args[0])
	if err != nil {
		return err
	}
	run, err := st.GetScan(id)
	if err != nil {
		return err
	}
	if run.Status != store.StatusCompleted {
		return fmt.Errorf("run %s has status %s and no report", id, run.Status)
	}

	rep, err := st.GetReport(id)
	if err != nil {
		return err
	}

	format, compression, err := outputSettings(cmd, globalCfg, showOutput)
	if err != nil {
		return err
	}
	if err := writeReport(rep, showOutput, format, compression); err != nil {
		return err
	}
	if !quiet && showOutput != "" {
		fmt.Fprintf(os.Stderr, "wrote %d enums from run %s to %s\n", len(rep.Enums), id, showOutput)
	}
	return nil
}
