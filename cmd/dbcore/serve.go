package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the storage and query execution core against a data directory and block",
	Long: `serve boots the catalog, WAL, transaction manager, planner, and
executor against --data-dir, running crash recovery if the directory
already holds a database. It has no network listener (out of scope for
this module): it keeps the core open, with --config read once at
startup, until SIGINT/SIGTERM, then shuts down cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		defer eng.Close()

		fmt.Printf("dbcore: engine open (db=%s)\n", eng.DBName())
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		return nil
	},
}
