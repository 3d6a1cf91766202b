package run

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"rulecast/internal/emit"
	"rulecast/internal/logging"
	"rulecast/internal/schema"
)

// datalogRunner evaluates the emitted Mangle program. Each record gets a
// synthetic identity constant, its non-null raw cells become raw_* facts,
// and after evaluation the derived calc_* facts are folded back onto the
// table. A cell with no derived fact stays null; that is the absence
// convention, not an error.
type datalogRunner struct{}

// NewDatalog returns the runner for the datalog target.
func NewDatalog() Runner { return datalogRunner{} }

func (datalogRunner) Target() string { return emit.TargetDatalog }

func (datalogRunner) Run(ctx context.Context, prog *emit.Program, rb *schema.Rulebook, blanked schema.Table) (schema.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryRun, "datalog run")

	unit, err := parse.Unit(strings.NewReader(prog.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("program analysis failed: %w", err)
	}

	preds := emit.DatalogPredicates(rb)
	store := factstore.NewSimpleInMemoryStore()
	recordSym := ast.PredicateSym{Symbol: "record", Arity: 1}

	index := make(map[string]int, len(blanked))
	for i, rec := range blanked {
		key := fmt.Sprintf("r%04d", i)
		index[key] = i
		rc := ast.String(key)
		store.Add(ast.Atom{Predicate: recordSym, Args: []ast.BaseTerm{rc}})
		for _, f := range rb.RawFields() {
			text, isName, ok := emit.DatalogConstant(rec.Get(f.Name))
			if !ok {
				continue
			}
			var c ast.Constant
			if isName {
				c, err = ast.Name(text)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", f.Name, err)
				}
			} else {
				c = ast.String(text)
			}
			store.Add(ast.Atom{
				Predicate: ast.PredicateSym{Symbol: preds[f.Name], Arity: 2},
				Args:      []ast.BaseTerm{rc, c},
			})
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := mengine.EvalProgramWithStats(info, store)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("program evaluation failed: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("datalog run timed out: %w", ctx.Err())
	}

	out := make(schema.Table, len(blanked))
	for i, rec := range blanked {
		out[i] = rec.Clone()
	}
	for _, f := range rb.CalculatedFields() {
		if !prog.Covers(f.Name) {
			continue
		}
		sym := ast.PredicateSym{Symbol: preds[f.Name], Arity: 2}
		err := store.GetFacts(ast.NewQuery(sym), func(a ast.Atom) error {
			key, err := constantText(a.Args[0])
			if err != nil {
				return err
			}
			i, ok := index[key]
			if !ok {
				return fmt.Errorf("fact for unknown record %q", key)
			}
			text, err := constantText(a.Args[1])
			if err != nil {
				return err
			}
			v, err := emit.DatalogDecode(text, f.Result)
			if err != nil {
				return err
			}
			out[i][f.Name] = v
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
	}

	timer.Stop(zap.Int("records", len(out)))
	return out, nil
}

func constantText(term ast.BaseTerm) (string, error) {
	c, ok := term.(ast.Constant)
	if !ok {
		return "", fmt.Errorf("fact argument %v is not a constant", term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol, nil
	}
	return "", fmt.Errorf("fact argument %v has unexpected type", c)
}
