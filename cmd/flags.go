package cmd

import "github.com/spf13/cobra"

// AddModelFlag adds the --model/-m flag
func AddModelFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "model", "m", "", "Override the configured model")
}

// AddMaxTurnsFlag adds the --max-turns flag
func AddMaxTurnsFlag(cmd *cobra.Command, dest *int) {
	cmd.Flags().IntVar(dest, "max-turns", 0, "Max model turns per reply (0 = use config)")
}

// AddTextFlag adds the --text flag
func AddTextFlag(cmd *cobra.Command, dest *bool) {
	cmd.Flags().BoolVar(dest, "text", false, "Stream plain text instead of rendering markdown")
}

// AddChatFlag adds the --chat/-c flag
func AddChatFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "chat", "c", "", "Continue an existing chat by id")
}

// AddJSONFlag adds the --json flag
func AddJSONFlag(cmd *cobra.Command, dest *bool) {
	cmd.Flags().BoolVar(dest, "json", false, "Output as JSON")
}
