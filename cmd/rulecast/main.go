package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rulecast/internal/config"
	"rulecast/internal/grade"
	"rulecast/internal/graph"
	"rulecast/internal/logging"
	"rulecast/internal/schema"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded configuration, set by PersistentPreRunE before any command runs.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rulecast",
	Short: "rulecast - rulebook formula compiler and conformance grader",
	Long: `rulecast compiles spreadsheet-style rulebooks into runnable programs
and grades execution targets against a reference evaluator.

A rulebook declares raw input fields and calculated fields whose formulas
reference other fields as {{Field}}. rulecast parses the formulas, sorts
them into dependency levels, computes the answer key with a three-valued
evaluator, emits equivalent programs for each target (golang, sqlite,
datalog), runs them, and scores every produced cell against the key.

Typical session:
  rulecast compile candidates.yaml
  rulecast eval candidates.yaml records.json -o key.json
  rulecast grade candidates.yaml records.json`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "rulecast.yaml", "Config file (a missing file falls back to defaults)")

	// Add commands to root
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(gradeCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadCompiled parses a rulebook file and builds its dependency graph.
func loadCompiled(path string) (*schema.Rulebook, *graph.Graph, error) {
	rb, err := schema.Load(path)
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.Build(rb)
	if err != nil {
		return nil, nil, err
	}
	return rb, g, nil
}

// enabledTargets resolves which targets a command grades or emits:
// explicit --target flags win, otherwise the configured list.
func enabledTargets(flagTargets []string) []string {
	if len(flagTargets) > 0 {
		return flagTargets
	}
	return cfg.Targets.Enabled
}

// gradeOptions assembles grading options from the config plus any
// per-command target override.
func gradeOptions(flagTargets []string) grade.Options {
	return grade.Options{
		Targets:      enabledTargets(flagTargets),
		FailureLimit: cfg.Grade.FailureLimit,
		Epsilon:      cfg.Grade.Epsilon,
		Timeout:      cfg.RunTimeout(),
	}
}

// outputDir resolves where a command writes artifacts: the -o flag when
// set, otherwise the configured output directory.
func outputDir(flagDir string) string {
	if flagDir != "" {
		return flagDir
	}
	return cfg.Grade.OutputDir
}

// signalContext derives a context cancelled by SIGINT or SIGTERM, for
// graceful shutdown of long-running commands.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logging.L(logging.CategoryCLI).Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
