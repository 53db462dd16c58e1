package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/researchflow/internal/persistence"
	"github.com/aristath/researchflow/internal/queue"
	"github.com/aristath/researchflow/internal/scheduler"
)

// report prints the drained entries and returns an error when any of them
// did not succeed, so the process exits non-zero.
func (a *app) report(entries []queue.Entry) error {
	printEntries(a.out, entries)

	failed := 0
	for _, e := range entries {
		if e.Status != scheduler.StatusSuccess {
			failed++
		}
	}
	if pending := a.queue.Status().Queued; len(pending) > 0 {
		fmt.Fprintf(a.out, "\n%d entries left queued; run \"researchflow resume\" to continue.\n", len(pending))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entries did not succeed", failed, len(entries))
	}
	return nil
}

func printEntries(w io.Writer, entries []queue.Entry) {
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s %s: %s\n", statusLabel(e.Status), e.ID, e.Agent, firstLine(e.Text))
		switch {
		case e.Status == scheduler.StatusSuccess && e.Result != nil:
			fmt.Fprintln(w, indent(strings.TrimSpace(e.Result.Output)))
		case e.Error != "":
			fmt.Fprintln(w, indent(e.Error))
		}
	}
}

func printHistory(w io.Writer, results []persistence.ResultRecord) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results recorded.")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s  %-9s %-10s %6s  %s\n",
			r.Ended.Local().Format(time.DateTime), r.Status, r.Agent,
			r.Duration().Round(time.Second), firstLine(r.Task))
	}
}

func printLearnings(w io.Writer, learnings []persistence.Learning) {
	if len(learnings) == 0 {
		fmt.Fprintln(w, "No learnings recorded.")
		return
	}
	for _, l := range learnings {
		fmt.Fprintf(w, "%s  [%s] %s\n", l.CreatedAt.Local().Format(time.DateTime), l.Topic, l.Content)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

// statusLabel renders a bracketed status, coloured when the output is a terminal.
func statusLabel(s scheduler.Status) string {
	label := "[" + string(s) + "]"
	switch s {
	case scheduler.StatusSuccess:
		return color.GreenString(label)
	case scheduler.StatusCancelled:
		return color.YellowString(label)
	default:
		return color.RedString(label)
	}
}
