package run

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"rulecast/internal/emit"
	"rulecast/internal/logging"
	"rulecast/internal/schema"
)

// yaegiRunner interprets the emitted Go program instead of compiling it, so a
// conformance run never shells out to a toolchain. The program must export
// main.EvalTable(inputJSON string) (string, error); the symbol is fetched
// after evaluation and type-asserted.
type yaegiRunner struct{}

// NewYaegi returns the runner for the golang target.
func NewYaegi() Runner { return yaegiRunner{} }

func (yaegiRunner) Target() string { return emit.TargetGolang }

func (yaegiRunner) Run(ctx context.Context, prog *emit.Program, rb *schema.Rulebook, blanked schema.Table) (schema.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryRun, "golang run")

	input, err := json.Marshal(blanked)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input records: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(prog.Source); err != nil {
		return nil, fmt.Errorf("program evaluation failed: %w", err)
	}
	sym, err := i.Eval("main.EvalTable")
	if err != nil {
		return nil, fmt.Errorf("EvalTable not found in program: %w", err)
	}
	evalTable, ok := sym.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("EvalTable has incorrect signature (expected func(string) (string, error))")
	}

	outCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := evalTable(string(input))
		if err != nil {
			errCh <- err
			return
		}
		outCh <- out
	}()

	select {
	case out := <-outCh:
		table, err := schema.ParseTable([]byte(out), rb)
		if err != nil {
			return nil, fmt.Errorf("failed to decode program output: %w", err)
		}
		timer.Stop(zap.Int("records", len(table)))
		return table, nil
	case err := <-errCh:
		return nil, fmt.Errorf("program run failed: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("golang run timed out: %w", ctx.Err())
	}
}
