package main

import (
	"context"
	"fmt"
	"time"

	"rulecast/internal/grade"
	"rulecast/internal/schema"

	"github.com/spf13/cobra"
)

var (
	gradeTargets  []string
	gradeDir      string
	gradeBattery  string
	gradeFailFast bool
)

// gradeCmd runs the full conformance pipeline
var gradeCmd = &cobra.Command{
	Use:   "grade [rulebook] [records]",
	Short: "Grade every target against the answer key",
	Long: `Runs the full conformance pipeline: computes the answer key, emits and
runs each target against blanked records, and scores every produced
cell. Targets run concurrently, each under its own timeout; one failing
target never sinks the others.

With --battery, runs a YAML suite of grading scenarios instead and
exits nonzero when any scenario misses its minimum scores.

Example:
  rulecast grade candidates.yaml records.json
  rulecast grade candidates.yaml records.json --target golang -o out/
  rulecast grade --battery conformance.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: runGrade,
}

func init() {
	gradeCmd.Flags().StringSliceVar(&gradeTargets, "target", nil, "Targets to grade (default the configured list)")
	gradeCmd.Flags().StringVarP(&gradeDir, "output", "o", "", "Directory for the report (default from config)")
	gradeCmd.Flags().StringVar(&gradeBattery, "battery", "", "Run a YAML battery of grading scenarios")
	gradeCmd.Flags().BoolVar(&gradeFailFast, "fail-fast", false, "Stop a battery at the first failing scenario")
}

func runGrade(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if gradeBattery != "" {
		return runGradeBattery(ctx)
	}
	if len(args) != 2 {
		return fmt.Errorf("grade needs <rulebook> <records> arguments (or --battery)")
	}

	rb, g, err := loadCompiled(args[0])
	if err != nil {
		return err
	}
	records, err := schema.LoadTable(args[1], rb)
	if err != nil {
		return err
	}

	report, err := grade.Grade(ctx, rb, g, records, gradeOptions(gradeTargets))
	if err != nil {
		return err
	}

	fmt.Print(report.Render())
	fmt.Println(report.StyledSummary())

	path, err := report.Write(outputDir(gradeDir))
	if err != nil {
		return err
	}
	fmt.Printf("report written to %s\n", path)
	return nil
}

func runGradeBattery(ctx context.Context) error {
	b, err := grade.LoadBattery(gradeBattery)
	if err != nil {
		return err
	}

	results := grade.RunBattery(ctx, b, gradeOptions(gradeTargets), gradeFailFast)

	failed := 0
	for _, res := range results {
		mark := "✓"
		if !res.Success {
			mark = "✗"
			failed++
		}
		fmt.Printf("%s %-28s %s", mark, res.Name, res.Duration.Round(time.Millisecond))
		if res.Reason != "" {
			fmt.Printf("  (%s)", res.Reason)
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("battery failed: %d of %d scenarios", failed, len(results))
	}
	fmt.Printf("battery passed: %d scenarios\n", len(results))
	return nil
}
