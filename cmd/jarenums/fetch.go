package main

import (
	"fmt"

	"github.com/BadgerOps/jarenums/internal/download"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var fetchWorkers int

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Download remote archives into the cache",
		Long: `Download one or more remote archives into the cache directory so later
scans of the same URLs do not need the network. Downloads run in parallel,
retry transient failures and resume partial files.`,
		Example: `  jarenums fetch https://repo.example.com/app-1.0.jar
  jarenums fetch --workers 8 https://repo.example.com/a.jar https://repo.example.com/b.jar`,
		Args: cobra.MinimumNArgs(1),
		RunE: fetchRun,
	}

	cmd.Flags().IntVar(&fetchWorkers, "workers", 4, "number of parallel downloads")

	return cmd
}

func fetchRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	timeout, err := globalCfg.FetchTimeout()
	if err != nil {
		return err
	}

	jobs := make([]download.Job, len(args))
	for i, u := range args {
		jobs[i] = download.Job{URL: u}
	}

	client := download.NewClient(logger, timeout)
	pool := download.NewPool(client, fetchWorkers, globalCfg.Fetch.CacheDir, globalCfg.Fetch.RetryAttempts, logger)
	results := pool.Execute(cmd.Context(), jobs)

	failed := 0
	for _, res := range results {
		if res.Error != nil {
			failed++
			fmt.Printf("FAIL  %s: %v\n", res.Job.URL, res.Error)
			continue
		}
		fmt.Printf("OK    %s  %9s  %s\n", res.Fetch.SHA256[:12], humanize.Bytes(uint64(res.Fetch.Size)), res.Fetch.Path)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(results))
	}
	return nil
}
