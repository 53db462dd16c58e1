package main

import (
	"github.com/spf13/cobra"
)

var (
	flagWorkers  int
	flagStateDir string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "researchflow",
	Short: "Dependency-aware prompt queue for research agents",
	Long: `researchflow runs prompts through CLI coding and research agents
(Claude Code, Codex) with priorities, dependencies and a shared memory
that carries earlier results into later prompts.

Queue state is saved under the state directory, so an interrupted run
can be picked up again with "researchflow resume".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagWorkers, "workers", "w", 0, "Maximum concurrent agent calls (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "Directory for queue and memory state (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log entry lifecycle events")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(historyCmd)
}
