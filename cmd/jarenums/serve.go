package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/jarenums/internal/server"
	"github.com/spf13/cobra"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan history over HTTP",
		Long: `Start an HTTP server exposing the scan history database as a JSON API.
Archives POSTed to /api/scans are scanned and recorded like "scan --save".

  GET    /api/scans               recorded scans, newest first (?limit=N)
  POST   /api/scans               scan the request body (?name, ?pattern, ?script, ?reuse=true)
  GET    /api/scans/{id}          one scan; {id} may be a unique prefix
  GET    /api/scans/{id}/report   stored report (?format=json|yaml, ?compression=none|zstd|xz)
  DELETE /api/scans/{id}          delete a scan and its report

The listen address defaults to server.listen from the config file
(127.0.0.1:8080). Use --listen to override.`,
		Example: `  jarenums serve
  jarenums serve --listen 0.0.0.0:9000
  curl --data-binary @app.jar 'http://127.0.0.1:8080/api/scans?name=app.jar'`,
		Args: cobra.NoArgs,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	st, err := openStore()
	if err != nil {
		return err
	}

	srv := server.NewServer(st, globalCfg, logger)

	errChan := make(chan error, 1)
	go func() {
		if !quiet {
			fmt.Printf("Starting server on %s...\n", listen)
		}
		errChan <- srv.Start(listen)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
		return nil
	case <-cmd.Context().Done():
		logger.Info("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if !quiet {
			fmt.Println("Server stopped gracefully")
		}
	}
	return nil
}
