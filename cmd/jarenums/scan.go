package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/jarenums/internal/config"
	"github.com/BadgerOps/jarenums/internal/download"
	"github.com/BadgerOps/jarenums/internal/filter"
	"github.com/BadgerOps/jarenums/internal/report"
	"github.com/BadgerOps/jarenums/internal/safety"
	"github.com/BadgerOps/jarenums/internal/scan"
	"github.com/BadgerOps/jarenums/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	scanPattern     string
	scanScript      string
	scanScriptFile  string
	scanOutput      string
	scanFormat      string
	scanCompression string
	scanSave        bool
	scanReuse       bool
	scanSHA256      string
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan ARCHIVE",
		Short: "Report the enum classes in a jar",
		Long: `Scan a jar, and every jar nested in it, for enum classes. ARCHIVE is a
local path or an http(s) URL; remote archives are fetched into the cache
directory first.

Class entries can be narrowed with --pattern (an RE2 expression matched
against the entry name, e.g. com/foo/Status.class) or with --script (an
expression over the variable "name" that must return a boolean). Rejected
entries are never parsed.

The report is written to stdout unless --output is given; the format and
compression are taken from the output file extension (.json, .yaml, .zst,
.xz) unless --format or --compression say otherwise.`,
		Example: `  jarenums scan app.jar
  jarenums scan app.jar --pattern 'Status\.class$'
  jarenums scan app.jar --script 'name startsWith "com/acme/"' --output enums.yaml.zst
  jarenums scan app.jar --save
  jarenums scan app.jar --reuse
  jarenums scan https://repo.example.com/app-1.0.jar --sha256 9f86d081884c7d65...`,
		Args: cobra.ExactArgs(1),
		RunE: scanRun,
	}

	cmd.Flags().StringVar(&scanPattern, "pattern", "", "only parse class entries matching this RE2 expression")
	cmd.Flags().StringVar(&scanScript, "script", "", "only parse class entries for which this expression is true")
	cmd.Flags().StringVar(&scanScriptFile, "script-file", "", "read the --script expression from a file")
	cmd.Flags().StringVarP(&scanOutput, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().StringVar(&scanFormat, "format", "", "report format (json, yaml)")
	cmd.Flags().StringVar(&scanCompression, "compression", "", "report compression (none, zstd, xz)")
	cmd.Flags().BoolVar(&scanSave, "save", false, "record the scan in the history database")
	cmd.Flags().BoolVar(&scanReuse, "reuse", false, "return the stored report if this archive was already scanned")
	cmd.Flags().StringVar(&scanSHA256, "sha256", "", "expected SHA256 of the archive")

	return cmd
}

func scanRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	ctx := cmd.Context()
	start := time.Now()
	archive := args[0]

	cfg := *globalCfg
	if cmd.Flags().Changed("pattern") || cmd.Flags().Changed("script") || cmd.Flags().Changed("script-file") {
		cfg.Filter = config.FilterConfig{Pattern: scanPattern, Script: scanScript, ScriptFile: scanScriptFile}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	script, err := cfg.FilterScript()
	if err != nil {
		return err
	}
	filterOpts := filter.Options{Pattern: cfg.Filter.Pattern, Script: script}
	ev, err := filter.New(filterOpts)
	if err != nil {
		return err
	}

	format, compression, err := outputSettings(cmd, &cfg, scanOutput)
	if err != nil {
		return err
	}

	maxEntry, err := cfg.MaxEntryBytes()
	if err != nil {
		return err
	}
	opts := scan.Options{
		ClassesRoot:    cfg.Scan.ClassesRoot,
		ClasspathIndex: cfg.Scan.ClasspathIndex,
		Marker:         cfg.Scan.MarkerDescriptor,
		MaxEntrySize:   maxEntry,
	}

	local, digest, err := resolveArchive(ctx, &cfg, archive, scanSHA256)
	if err != nil {
		return err
	}

	record := scanSave || cfg.Store.Enabled
	var st *store.Store
	if record || scanReuse {
		if st, err = openStore(); err != nil {
			return err
		}
		if digest == "" {
			if digest, err = download.HashFile(local); err != nil {
				return fmt.Errorf("hashing archive: %w", err)
			}
		}
	}

	if scanReuse {
		prev, err := st.FindCompletedScan(digest, opts.Marker, filterOpts.String())
		switch {
		case err == nil:
			rep, err := st.GetReport(prev.ID)
			if err != nil {
				return err
			}
			logger.Info("reusing stored scan", "run", prev.ID, "sha256", digest)
			if err := writeReport(rep, scanOutput, format, compression); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(os.Stderr, "%d enums in %s (stored run %s from %s)\n",
					len(rep.Enums), archive, prev.ID, humanize.Time(prev.StartTime))
			}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	var size int64
	if fi, err := os.Stat(local); err == nil {
		size = fi.Size()
	}
	run := &store.ScanRun{
		Archive:   archive,
		SHA256:    digest,
		Size:      size,
		Filter:    filterOpts.String(),
		Marker:    opts.Marker,
		StartTime: start.UTC(),
	}
	if record {
		if err := st.CreateScan(run); err != nil {
			return err
		}
	}

	scanLogger := logger.With("archive", archive)
	if run.ID != "" {
		scanLogger = scanLogger.With("run", run.ID)
	}
	scanner := scan.New(opts, ev, scanLogger)
	rep, scanErr := scanner.ScanFile(ctx, local)
	stats := scanner.Stats()

	if record {
		run.EndTime = time.Now().UTC()
		run.ArchivesVisited = stats.Archives
		run.ClassesParsed = stats.Classes
		if scanErr != nil {
			run.Status = store.StatusFailed
			run.ErrorMessage = scanErr.Error()
		} else {
			run.Status = store.StatusCompleted
			run.EnumCount = len(rep.Enums)
			if err := st.SaveReport(run.ID, rep); err != nil {
				return err
			}
		}
		if err := st.UpdateScan(run); err != nil {
			logger.Error("failed to record scan", "run", run.ID, "error", err)
		}
	}
	if scanErr != nil {
		return fmt.Errorf("scanning %s: %w", archive, scanErr)
	}

	if err := writeReport(rep, scanOutput, format, compression); err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintf(os.Stderr, "%d enums in %s (%d classes parsed, %d archives, %s read in %s)\n",
			len(rep.Enums), archive, stats.Classes, stats.Archives,
			humanize.Bytes(uint64(stats.BytesRead)), time.Since(start).Round(time.Millisecond))
		if record {
			fmt.Fprintf(os.Stderr, "saved as run %s\n", run.ID)
		}
	}
	return nil
}

// resolveArchive returns a local path for archive, fetching URLs into the
// cache, and its SHA256 when it was computed along the way.
func resolveArchive(ctx context.Context, cfg *config.Config, archive, wantSHA string) (string, string, error) {
	if safety.IsRemote(archive) {
		timeout, err := cfg.FetchTimeout()
		if err != nil {
			return "", "", err
		}
		client := download.NewClient(logger, timeout)
		res, err := client.Fetch(ctx, download.FetchOptions{
			URL:              archive,
			CacheDir:         cfg.Fetch.CacheDir,
			ExpectedChecksum: wantSHA,
			RetryCount:       cfg.Fetch.RetryAttempts,
		})
		if err != nil {
			return "", "", fmt.Errorf("fetching %s: %w", archive, err)
		}
		return res.Path, res.SHA256, nil
	}

	if wantSHA == "" {
		return archive, "", nil
	}
	got, err := download.HashFile(archive)
	if err != nil {
		return "", "", fmt.Errorf("hashing archive: %w", err)
	}
	if !strings.EqualFold(got, strings.TrimSpace(wantSHA)) {
		return "", "", &download.ChecksumError{Got: got, Want: wantSHA}
	}
	return archive, got, nil
}

// outputSettings picks the report format and compression: flags first, then
// the output file extension, then config.
func outputSettings(cmd *cobra.Command, cfg *config.Config, output string) (report.Format, report.Compression, error) {
	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return "", "", err
	}
	compression, err := report.ParseCompression(cfg.Output.Compression)
	if err != nil {
		return "", "", err
	}

	if output != "" && output != "-" {
		f, c, ok := report.FromPath(output)
		if ok {
			format = f
		}
		if ok || c != report.CompressionNone {
			compression = c
		}
	}

	if cmd.Flags().Changed("format") {
		if format, err = report.ParseFormat(cmd.Flag("format").Value.String()); err != nil {
			return "", "", err
		}
	}
	if cmd.Flags().Changed("compression") {
		if compression, err = report.ParseCompression(cmd.Flag("compression").Value.String()); err != nil {
			return "", "", err
		}
	}
	return format, compression, nil
}

// writeReport renders r to path, or to stdout when path is empty or "-".
func writeReport(r *report.Report, path string, format report.Format, compression report.Compression) error {
	if path == "" || path == "-" {
		return report.Write(os.Stdout, r, format, compression)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := report.Write(tmp, r, format, compression); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	logger.Debug("report written", "path", path, "format", format, "compression", compression)
	return nil
}
