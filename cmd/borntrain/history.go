package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/born-ml/born-train/internal/history"
)

var (
	historyDB    string
	historyRun   string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List training runs or the events of one run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyDB
		if path == "" {
			path = cfg.History.Path
		}
		if path == "" {
			return fmt.Errorf("no history database configured")
		}

		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		if historyRun != "" {
			events, err := store.Events(cmd.Context(), historyRun)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		}
		runs, err := store.Runs(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "", "history database (default from config)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the events of this run")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list, 0 for all")
}

func printRuns(w io.Writer, runs []history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tEPOCHS\tSTATUS")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), duration, r.Epochs, r.Status)
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []history.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITERATION\tEPOCH\tKIND\tLOSS\tVALID_LOSS\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			ev.Iteration, ev.Epoch, ev.Kind, formatLoss(ev.Loss), formatLoss(ev.ValidLoss), ev.Detail)
	}
	return tw.Flush()
}

func formatLoss(v float32) string {
	if math.IsNaN(float64(v)) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
