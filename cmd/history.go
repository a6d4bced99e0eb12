package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spamlens/spamlens/pkg/profiler"
	"github.com/spamlens/spamlens/pkg/runlog"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded training runs",
	Long:  `Show the most recent training runs from the run history database, newest first.`,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.History.Enabled {
		return fmt.Errorf("run history is disabled (history.enabled: false)")
	}

	ctx := context.Background()
	ledger, err := runlog.Open(ctx, cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Printf("📜 No training runs recorded in %s\n", cfg.History.Path)
		return nil
	}

	fmt.Printf("📜 Training history (%s)\n\n", cfg.History.Path)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tSTAGE\tPROFILE\tEXAMPLES\tVOCAB\tACCURACY\tDURATION\tRUN")
	for _, r := range runs {
		accuracy := "-"
		if r.Status == runlog.StatusSucceeded {
			accuracy = fmt.Sprintf("%.2f%%", r.Accuracy*100)
			if r.Degraded {
				accuracy += "*"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d (%d/%d)\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Status, r.Stage, r.Profile,
			r.Examples, r.SpamExamples, r.NormalExamples, r.VocabularySize,
			accuracy, profiler.FormatDuration(r.Duration), r.RunID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n* evaluated on the training set\n")
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output runs as JSON")

	rootCmd.AddCommand(historyCmd)
}
