package main

import (
	"context"
	"fmt"
	"path/filepath"

	"rulecast/internal/eval"
	"rulecast/internal/explain"
	"rulecast/internal/schema"

	"github.com/spf13/cobra"
)

var (
	explainRecords string
	explainField   string
	explainRecord  string
	explainDir     string
)

// explainCmd builds the explanation bundle for a rulebook
var explainCmd = &cobra.Command{
	Use:   "explain <rulebook>",
	Short: "Build the explanation bundle for a rulebook",
	Long: `Builds one explanation template per calculated field: the formula tree
with content-addressed nodes, so identical formulas share a hash. With
--records, also evaluates the records and binds one instance per record
and field, each self-validated against the stored answer.

With --field, renders that field's tree; add --record to pick which
record's values decorate it (default the first record).

Example:
  rulecast explain candidates.yaml --field PredictedAnswer
  rulecast explain candidates.yaml --records records.json -o out/`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().StringVar(&explainRecords, "records", "", "Records file to evaluate and bind instances from")
	explainCmd.Flags().StringVar(&explainField, "field", "", "Render this calculated field's tree")
	explainCmd.Flags().StringVar(&explainRecord, "record", "", "Record key to decorate the tree with (default the first record)")
	explainCmd.Flags().StringVarP(&explainDir, "output", "o", "", "Directory for the bundle (default from config)")
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if explainRecord != "" && explainField == "" {
		return fmt.Errorf("--record requires --field")
	}

	rb, g, err := loadCompiled(args[0])
	if err != nil {
		return err
	}

	var answered schema.Table
	if explainRecords != "" {
		records, err := schema.LoadTable(explainRecords, rb)
		if err != nil {
			return err
		}
		ev := eval.New(rb, g).WithParallelism(cfg.Eval.Parallelism)
		answered, err = ev.EvalTable(ctx, records)
		if err != nil {
			return err
		}
	}

	bundle, err := explain.Build(rb, g, answered)
	if err != nil {
		return err
	}

	if explainField != "" {
		tmpl := bundle.Template(explainField)
		if tmpl == nil {
			return fmt.Errorf("no calculated field %q in rulebook %s", explainField, rb.Name)
		}
		var inst *explain.Instance
		if len(answered) > 0 {
			key := explainRecord
			if key == "" {
				key = answered[0].Key(rb)
			}
			inst = bundle.Instance(explainField, key)
			if inst == nil {
				return fmt.Errorf("no record %q in %s", key, explainRecords)
			}
		}
		fmt.Print(explain.RenderASCII(tmpl, inst))
	}

	path := filepath.Join(outputDir(explainDir), fmt.Sprintf("explain-%s.json", bundle.RunID[:8]))
	if err := bundle.Write(path); err != nil {
		return err
	}
	fmt.Printf("bundle written to %s\n", path)

	if bundle.ValidationError != nil {
		fmt.Printf("warning: %v\n", bundle.ValidationError)
	}
	return nil
}
