package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	historyLimit     int
	historyLearnings bool
	historyTopic     string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored results or learnings",
	Long: `Show results of earlier entries, newest first, from the knowledge store.
With --learnings, show the learnings recorded from successful entries
instead, optionally filtered by agent with --topic.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{NoState: true, Out: os.Stdout})
		if err != nil {
			return err
		}
		defer a.close()

		if historyLearnings {
			learnings, err := a.store.Learnings(cmd.Context(), historyTopic, historyLimit)
			if err != nil {
				return err
			}
			printLearnings(a.out, learnings)
			return nil
		}

		results, err := a.store.Results(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		printHistory(a.out, results)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows to show (0 = all)")
	historyCmd.Flags().BoolVarP(&historyLearnings, "learnings", "l", false, "Show learnings instead of results")
	historyCmd.Flags().StringVarP(&historyTopic, "topic", "t", "", "Filter learnings by agent")
}
