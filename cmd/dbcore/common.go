package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relational/dbcore/engine"
	"github.com/relational/dbcore/internal/config"
	"github.com/relational/dbcore/internal/metrics"
)

// openEngine builds an engine.Engine from a command's persistent flags.
// Every subcommand that touches the core goes through this, so
// --data-dir/--db/--config behave identically everywhere.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dbName, _ := cmd.Flags().GetString("db")
	cfgFile, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(dataDir, cfgFile)
	if err != nil {
		return nil, err
	}

	met := metrics.NewRegistry(prometheus.NewRegistry())
	return engine.Open(cfg, dbName, log, met)
}
