package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "pulse-orch",
		Short: "Pulse Orchestrator - Incremental agent work execution",
		Long: `Pulse Orchestrator executes development workflows as a sequence of pulses:
small units of work, each on its own git branch in an isolated worktree,
verified against recorded baseline output before it is committed and merged.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
