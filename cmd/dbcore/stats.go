package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Open the core, print a point-in-time cache snapshot, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		defer eng.Close()

		s := eng.Stats()
		fmt.Printf("Plan cache entries:   %d\n", s.PlanCacheLen)
		fmt.Printf("Result cache entries: %d\n", s.ResultCacheLen)
		return nil
	},
}
