package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var outputJSON bool

var rootCmd = &cobra.Command{
	Use:   "clara-cli",
	Short: "CLARA Security control-plane client",
	Long: `clara-cli talks to the orchestrator daemon over its local
control-plane socket. Each subcommand sends one command and prints
one response.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON responses instead of formatted output")
}
