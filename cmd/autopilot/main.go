package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Mission control for autonomous agent campaigns",
		Long:  `Autopilot runs missions: it schedules agent tasks, scores their confidence, gates risky actions, and records every outcome for replay.`,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newStatusCmd(),
		newReplayCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Autopilot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Autopilot v%s\n", version)
		},
	}
}
