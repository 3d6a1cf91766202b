package main

import (
	"fmt"
	"os"
	"path/filepath"

	"rulecast/internal/emit"

	"github.com/spf13/cobra"
)

var (
	emitTargets []string
	emitDir     string
)

// emitCmd renders target programs from a rulebook
var emitCmd = &cobra.Command{
	Use:   "emit <rulebook>",
	Short: "Emit target programs for a rulebook",
	Long: `Compiles the rulebook and renders one program per target. Fields a
target cannot express are dropped from that artifact, together with
their dependents, and reported rather than silently skipped.

Example:
  rulecast emit candidates.yaml --target sqlite
  rulecast emit candidates.yaml -o out/`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

func init() {
	emitCmd.Flags().StringSliceVar(&emitTargets, "target", nil, "Targets to emit (default the configured list)")
	emitCmd.Flags().StringVarP(&emitDir, "output", "o", "", "Directory for emitted files (default stdout)")
}

func runEmit(cmd *cobra.Command, args []string) error {
	rb, g, err := loadCompiled(args[0])
	if err != nil {
		return err
	}

	if emitDir != "" {
		if err := os.MkdirAll(emitDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", emitDir, err)
		}
	}

	for _, target := range enabledTargets(emitTargets) {
		emitter, err := emit.ByTarget(target)
		if err != nil {
			return err
		}
		prog, err := emitter.Emit(rb, g)
		if err != nil {
			return fmt.Errorf("failed to emit %s: %w", target, err)
		}

		if emitDir == "" {
			fmt.Printf("--- %s ---\n%s", prog.Filename, prog.Source)
		} else {
			path := filepath.Join(emitDir, prog.Filename)
			if err := os.WriteFile(path, []byte(prog.Source), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Printf("wrote %s\n", path)
		}

		for _, issue := range prog.Unsupported {
			fmt.Printf("  ! %s: %s\n", issue.Field, issue.Reason)
		}
	}
	return nil
}
