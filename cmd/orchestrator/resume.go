package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/researchflow/internal/queue"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume entries left queued by an interrupted run",
	Long: `Reload the saved queue and shared memory from the state directory and
run every entry that had not finished. Completed entries from the earlier
session are not run again, but entries can still depend on them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{
			Workers:  flagWorkers,
			StateDir: flagStateDir,
			Verbose:  flagVerbose,
			Out:      os.Stdout,
		})
		if err != nil {
			return err
		}
		defer a.close()

		entries, n, err := a.resume(cmd.Context())
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(a.out, "Nothing to resume.")
			return nil
		}
		return a.report(entries)
	},
}

// resume restores saved state and drains the restored entries.
func (a *app) resume(ctx context.Context) ([]queue.Entry, int, error) {
	n, err := a.queue.Restore()
	if err != nil {
		return nil, 0, fmt.Errorf("restore queue: %w", err)
	}
	if n == 0 {
		return nil, 0, nil
	}
	return a.wait(ctx), n, nil
}
