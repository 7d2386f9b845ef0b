// Command dbcore drives the storage and query execution core directly,
// without a network listener or SQL front end (both out of scope for
// this module): it opens an engine.Engine against a data directory and
// exercises it through the planner's statement types. Grounded on
// cuemby/warren's cmd/warren cobra root (persistent flags plus
// cobra.OnInitialize for logging) and the teacher's cmd/demo and
// cmd/benchmark mains for the serve/bench texture.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relational/dbcore/internal/dblog"
)

var log zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "dbcore",
	Short: "dbcore drives the relational storage and query execution core",
	Long: `dbcore is a direct driver for the storage and query execution
core: B+ tree storage, write-ahead logging, transaction and lock
management, and the cost-based planner/executor. It has no SQL parser
and no network listener; statements are built programmatically, from
fixtures compiled into the binary.`,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./dbcore-data", "Data directory for catalog, tables, and WAL")
	rootCmd.PersistentFlags().String("db", "default", "Database name within the data directory")
	rootCmd.PersistentFlags().String("config", "", "Optional config file (toml/yaml/json, read via viper)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(statsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log = dblog.New(dblog.Config{Level: dblog.Level(level), JSONOutput: jsonOut})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
