package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cityctl",
		Short:         "Operator tooling for the city builder: headless runs, snapshots, event logs, schemas",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(simulateCmd())
	root.AddCommand(snapshotCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(adminCmd())
	return root
}
