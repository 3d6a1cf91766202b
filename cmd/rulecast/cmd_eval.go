package main

import (
	"context"
	"encoding/json"
	"fmt"

	"rulecast/internal/eval"
	"rulecast/internal/schema"

	"github.com/spf13/cobra"
)

var evalOut string

// evalCmd computes the answer key for a records file
var evalCmd = &cobra.Command{
	Use:   "eval <rulebook> <records>",
	Short: "Compute the answer key for a records file",
	Long: `Evaluates every calculated field of every record with the reference
evaluator and writes the completed table - the answer key that targets
are graded against.

Blank and missing cells evaluate under three-valued logic: an unknown
input makes comparisons unknown, and unknown results store as null.

Example:
  rulecast eval candidates.yaml records.json -o key.json`,
	Args: cobra.ExactArgs(2),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalOut, "output", "o", "", "Write the answer key to a file (default stdout)")
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	rb, g, err := loadCompiled(args[0])
	if err != nil {
		return err
	}
	records, err := schema.LoadTable(args[1], rb)
	if err != nil {
		return err
	}

	ev := eval.New(rb, g).WithParallelism(cfg.Eval.Parallelism)
	answered, err := ev.EvalTable(ctx, records)
	if err != nil {
		return err
	}

	if evalOut == "" {
		data, err := json.MarshalIndent(answered, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode answer key: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	if err := schema.WriteTable(evalOut, answered); err != nil {
		return err
	}
	fmt.Printf("answer key for %d records written to %s\n", len(answered), evalOut)
	return nil
}
