package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputFlag registers the --json flag shared by listing commands.
func outputFlag(cmd *cobra.Command) *bool {
	var asJSON bool
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return &asJSON
}
