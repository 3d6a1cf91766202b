package eval

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rulecast/internal/formula"
	"rulecast/internal/graph"
	"rulecast/internal/logging"
	"rulecast/internal/schema"
)

// Evaluator computes calculated fields for records of one rulebook. It is
// stateless across calls and safe for concurrent use.
type Evaluator struct {
	rb          *schema.Rulebook
	g           *graph.Graph
	parallelism int
}

// New builds an evaluator. Parallelism defaults to the CPU count.
func New(rb *schema.Rulebook, g *graph.Graph) *Evaluator {
	return &Evaluator{rb: rb, g: g, parallelism: runtime.NumCPU()}
}

// WithParallelism caps how many records evaluate concurrently.
func (e *Evaluator) WithParallelism(n int) *Evaluator {
	if n > 0 {
		e.parallelism = n
	}
	return e
}

// EvalRecord returns a copy of rec with every calculated cell filled, walked
// in level order so each formula only ever reads settled cells.
func (e *Evaluator) EvalRecord(rec schema.Record) (schema.Record, error) {
	out := rec.Clone()
	for _, name := range e.g.CalcOrder() {
		v, err := e.evalStored(out, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// EvalField computes a single calculated field for a record, evaluating any
// calculated dependencies on the way. The input record only needs raw cells.
func (e *Evaluator) EvalField(rec schema.Record, name string) (schema.Value, error) {
	f, ok := e.rb.Field(name)
	if !ok {
		return schema.Value{}, fmt.Errorf("unknown field %q", name)
	}
	if f.Type == schema.FieldRaw {
		return rec.Get(name), nil
	}
	scratch := rec.Clone()
	for _, dep := range e.g.CalcOrder() {
		if e.g.Level(dep) >= e.g.Level(name) {
			break
		}
		v, err := e.evalStored(scratch, dep)
		if err != nil {
			return schema.Value{}, err
		}
		scratch[dep] = v
	}
	return e.evalStored(scratch, name)
}

// EvalExpr evaluates an arbitrary expression against a record whose
// dependencies are already settled, without result canonicalization.
// Callers that want the value a calculated field would store should pass
// the result through StoredValue.
func (e *Evaluator) EvalExpr(rec schema.Record, n formula.Node) (schema.Value, error) {
	return e.evalNode(rec, n)
}

// StoredValue applies result canonicalization for a calculated field: a
// string field that comes out as "" stores as null, because the table
// model has no empty cell. All other values store as computed.
func StoredValue(kind schema.ResultKind, v schema.Value) schema.Value {
	if kind == schema.ResultString && v.Kind == schema.KindString && v.Str == "" {
		return schema.NullValue()
	}
	return v
}

// EvalTable computes the answer key for a table. Records evaluate in
// parallel; the result preserves input order.
func (e *Evaluator) EvalTable(ctx context.Context, t schema.Table) (schema.Table, error) {
	timer := logging.StartTimer(logging.CategoryEval, "answer key")
	out := make(schema.Table, len(t))
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.parallelism)
	for i, rec := range t {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.EvalRecord(rec)
			if err != nil {
				return fmt.Errorf("record %d (%s): %w", i, rec.Key(e.rb), err)
			}
			out[i] = res
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	timer.Stop(zap.Int("records", len(t)), zap.Int("fields", len(e.g.CalcOrder())))
	return out, nil
}

// evalStored evaluates one calculated field against settled cells and
// applies result canonicalization: a calculated string field that comes out
// as "" stores as null, because the table model has no empty cell.
func (e *Evaluator) evalStored(rec schema.Record, name string) (schema.Value, error) {
	tree, ok := e.g.Formula(name)
	if !ok {
		return schema.Value{}, fmt.Errorf("no formula for field %q", name)
	}
	v, err := e.evalNode(rec, tree)
	if err != nil {
		var tm *TypeMismatchError
		if errors.As(err, &tm) && tm.Field == "" {
			tm.Field = name
		}
		return schema.Value{}, err
	}
	f, _ := e.rb.Field(name)
	return StoredValue(f.Result, v), nil
}

func (e *Evaluator) evalNode(rec schema.Record, n formula.Node) (schema.Value, error) {
	switch node := n.(type) {
	case *formula.FieldRef:
		return rec.Get(node.Name), nil

	case *formula.Const:
		switch node.Lit {
		case formula.LitBool:
			return schema.BoolValue(node.Bool), nil
		case formula.LitNumber:
			return schema.NumberValue(node.Num), nil
		case formula.LitString:
			return schema.StringValue(node.Str), nil
		default:
			return schema.NullValue(), nil
		}

	case *formula.UnaryOp:
		v, err := e.evalNode(rec, node.Operand)
		if err != nil {
			return schema.Value{}, err
		}
		return negate(v)

	case *formula.BinaryOp:
		left, err := e.evalNode(rec, node.Left)
		if err != nil {
			return schema.Value{}, err
		}
		right, err := e.evalNode(rec, node.Right)
		if err != nil {
			return schema.Value{}, err
		}
		switch node.Op {
		case formula.OpConcat:
			return concatValues([]schema.Value{left, right}), nil
		case formula.OpAdd, formula.OpSub, formula.OpMul, formula.OpDiv:
			return arith(node.Op, left, right)
		default:
			return compare(node.Op, left, right)
		}

	case *formula.Conditional:
		cond, err := e.evalNode(rec, node.Cond)
		if err != nil {
			return schema.Value{}, err
		}
		switch cond.Kind {
		case schema.KindNull:
			// neither branch: an undecided condition has no answer
			return schema.NullValue(), nil
		case schema.KindBool:
			if cond.Bool {
				return e.evalNode(rec, node.Then)
			}
			return e.evalNode(rec, node.Else)
		default:
			return schema.Value{}, mismatch("IF", "boolean", cond)
		}

	case *formula.FnCall:
		return e.evalCall(rec, node)

	default:
		return schema.Value{}, fmt.Errorf("unsupported formula node %T", n)
	}
}

func (e *Evaluator) evalCall(rec schema.Record, call *formula.FnCall) (schema.Value, error) {
	args := make([]schema.Value, len(call.Args))
	for i, a := range call.Args {
		v, err := e.evalNode(rec, a)
		if err != nil {
			return schema.Value{}, err
		}
		args[i] = v
	}
	switch call.Name {
	case "AND":
		return kleeneAnd(args)
	case "OR":
		return kleeneOr(args)
	case "NOT":
		return kleeneNot(args[0])
	case "CONCAT":
		return concatValues(args), nil
	case "LOWER", "UPPER", "TRIM", "LEN":
		return stringFn(call.Name, args[0])
	default:
		return schema.Value{}, fmt.Errorf("unsupported function %q", call.Name)
	}
}
