package main

import (
	"context"
	"fmt"

	"rulecast/internal/grade"
	"rulecast/internal/schema"
	"rulecast/internal/watch"

	"github.com/spf13/cobra"
)

var watchTargets []string

// watchCmd re-grades on file changes
var watchCmd = &cobra.Command{
	Use:   "watch <rulebook> <records>",
	Short: "Re-grade whenever the rulebook or records change",
	Long: `Watches both files and re-runs the grading pipeline when either one
changes, with rapid saves debounced into a single run. A failing run
prints its error and the watch continues; Ctrl+C stops it.

Example:
  rulecast watch candidates.yaml records.json`,
	Args: cobra.ExactArgs(2),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchTargets, "target", nil, "Targets to grade (default the configured list)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	rulebookPath, recordsPath := args[0], args[1]

	// Reload both files on every run: either may have changed.
	regrade := func(ctx context.Context, _ []string) {
		rb, g, err := loadCompiled(rulebookPath)
		if err != nil {
			fmt.Printf("compile failed: %v\n", err)
			return
		}
		records, err := schema.LoadTable(recordsPath, rb)
		if err != nil {
			fmt.Printf("failed to load records: %v\n", err)
			return
		}
		report, err := grade.Grade(ctx, rb, g, records, gradeOptions(watchTargets))
		if err != nil {
			fmt.Printf("grading failed: %v\n", err)
			return
		}
		fmt.Println(report.StyledSummary())
	}

	w, err := watch.New([]string{rulebookPath, recordsPath}, regrade)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("watching %s and %s (Ctrl+C to stop)\n", rulebookPath, recordsPath)
	regrade(ctx, nil)

	<-ctx.Done()
	return nil
}
