package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.2.0"

var cfgPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:           "taskscope",
	Short:         "Structured-concurrency walkthrough",
	Long:          "taskscope runs scenarios built on scoped tasks: launch, join, async values, cancellation and failure propagation.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
}
