package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-taskscope/internal/demo"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available scenarios",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	for _, sc := range demo.Scenarios() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", sc.Name, sc.Title)
	}
	return nil
}
