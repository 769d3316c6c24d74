package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "strokeinsight",
	Short:         "Stroke risk predictions for patient spreadsheets",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !term.IsTerminal(int(os.Stderr.Fd())) {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
