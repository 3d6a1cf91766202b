// Package run executes emitted programs over blanked records and maps each
// target's output back onto the three-valued data model: a nil pointer, a SQL
// NULL and an absent fact all come back as a null cell. Runners honor context
// cancellation; a timed-out run returns an error for the grading layer to
// record, never a partial table.
package run

import (
	"context"
	"fmt"

	"rulecast/internal/emit"
	"rulecast/internal/schema"
)

// Runner executes one target's program against a blanked table and returns
// the candidate table. Uncovered calculated cells stay null.
type Runner interface {
	Target() string
	Run(ctx context.Context, prog *emit.Program, rb *schema.Rulebook, blanked schema.Table) (schema.Table, error)
}

// ForTarget resolves the runner matching an emitter target.
func ForTarget(name string) (Runner, error) {
	switch name {
	case emit.TargetGolang:
		return NewYaegi(), nil
	case emit.TargetSQLite:
		return NewSQLite(), nil
	case emit.TargetDatalog:
		return NewDatalog(), nil
	}
	return nil, fmt.Errorf("no runner for target %q", name)
}
