package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"rulecast/internal/schema"

	"github.com/spf13/cobra"
)

var compileJSON bool

// compileCmd parses a rulebook and prints its evaluation plan
var compileCmd = &cobra.Command{
	Use:   "compile <rulebook>",
	Short: "Parse a rulebook and print its evaluation plan",
	Long: `Parses every formula in the rulebook, builds the dependency graph and
prints the evaluation plan: fields grouped by level, each with the fields
its formula reads. Level 0 is the raw inputs; every later level depends
only on earlier ones.

Example:
  rulecast compile candidates.yaml
  rulecast compile candidates.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().BoolVar(&compileJSON, "json", false, "Print the plan as JSON")
}

// planField is one field's row in the JSON plan.
type planField struct {
	Name      string            `json:"name"`
	Type      schema.FieldType  `json:"type"`
	Result    schema.ResultKind `json:"result"`
	Level     int               `json:"level"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Formula   string            `json:"formula,omitempty"`
}

type compilePlan struct {
	Rulebook   string      `json:"rulebook"`
	PrimaryKey string      `json:"primary_key"`
	Levels     int         `json:"levels"`
	Fields     []planField `json:"fields"`
}

func runCompile(cmd *cobra.Command, args []string) error {
	rb, g, err := loadCompiled(args[0])
	if err != nil {
		return err
	}

	levels := g.Levels()

	if compileJSON {
		plan := compilePlan{
			Rulebook:   rb.Name,
			PrimaryKey: rb.PrimaryKeyField(),
			Levels:     len(levels),
			Fields:     make([]planField, 0, len(rb.Fields)),
		}
		for lvl, names := range levels {
			for _, name := range names {
				f, _ := rb.Field(name)
				pf := planField{
					Name:      name,
					Type:      f.Type,
					Result:    f.Result,
					Level:     lvl,
					DependsOn: g.Dependencies(name),
				}
				if tree, ok := g.Formula(name); ok {
					pf.Formula = "=" + tree.String()
				}
				plan.Fields = append(plan.Fields, pf)
			}
		}
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("rulebook %s: %d fields (%d raw, %d calculated), %d levels\n\n",
		rb.Name, len(rb.Fields), len(rb.RawFields()), len(rb.CalculatedFields()), len(levels))

	nameW := len("field")
	for _, f := range rb.Fields {
		if len(f.Name) > nameW {
			nameW = len(f.Name)
		}
	}

	fmt.Printf("  %5s  %-*s  %-8s  %s\n", "level", nameW, "field", "result", "reads")
	for lvl, names := range levels {
		for _, name := range names {
			f, _ := rb.Field(name)
			reads := "-"
			if deps := g.Dependencies(name); len(deps) > 0 {
				reads = strings.Join(deps, ", ")
			}
			fmt.Printf("  %5d  %-*s  %-8s  %s\n", lvl, nameW, name, string(f.Result), reads)
		}
	}
	return nil
}
