package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "grave",
	Short: "electronic-grave canvas and heritage service",
	Long: `grave serves the canvas composition API. Users lay out images, text,
markdown and heritage shrines on a canvas; visitors try their luck at
claiming the private items a shrine holds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(newServeCmd(), newClaimWorkerCmd(), newMigrateCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
