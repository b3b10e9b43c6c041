package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an interrupted harvest",
	Long: `Continues the harvest found in the harvest directory. Tracks in progress resume
from their last resumption token, pending tracks start from the beginning.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := destination()
		if err != nil {
			return err
		}
		return newHarvester().Resume(cmd.Context(), d)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Harvest what changed since a complete harvest started",
	Long: `Starts a new harvest with the arguments of the complete harvest found in the
harvest directory, from the time that harvest started.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := destination()
		if err != nil {
			return err
		}
		return newHarvester().Update(cmd.Context(), d)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(versionCmd)
}
