package emit

import (
	"fmt"
	"strconv"
	"strings"

	"rulecast/internal/formula"
	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

// sqliteEmitter renders a rulebook as one conformance query: chained
// per-level CTEs over a raw-only table named records, yielding every field in
// declaration order. SQLite's NULL handling is already three-valued, so
// comparisons, arithmetic and AND/OR/NOT map onto native operators; the
// runner creates the table and inserts the blanked rows.
type sqliteEmitter struct{}

// NewSQLite returns the relational emitter. SQLite's dynamic typing covers
// the full construct set, including conditionals with mixed branch types.
func NewSQLite() Emitter { return sqliteEmitter{} }

func (sqliteEmitter) Target() string { return TargetSQLite }

func (sqliteEmitter) Emit(rb *schema.Rulebook, g *graph.Graph) (*Program, error) {
	r := sqlRenderer{kinds: fieldKinds(rb)}

	exprs := make(map[string]string)
	_, issues, err := planFields(rb, g, func(name string) error {
		f, _ := rb.Field(name)
		tree, _ := g.Formula(name)
		src, err := r.expr(tree)
		if err != nil {
			return err
		}
		if f.Result == schema.ResultString {
			// calculated text that renders empty is stored as null
			src = "NULLIF(" + src + ", '')"
		}
		exprs[name] = src
		return nil
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Conformance query for rulebook %q.\n", rb.Name)
	b.WriteString("-- Expects a table records holding the raw columns; emits every field in\n")
	b.WriteString("-- declaration order, calculated columns filled level by level.\n")

	prev := "records"
	cte := 0
	levels := g.Levels()
	for i := 1; i < len(levels); i++ {
		var cols []string
		for _, name := range levels[i] {
			if src, ok := exprs[name]; ok {
				cols = append(cols, fmt.Sprintf("    %s AS %s", src, SQLIdent(name)))
			}
		}
		if len(cols) == 0 {
			continue
		}
		cte++
		current := fmt.Sprintf("level%d", cte)
		if cte == 1 {
			b.WriteString("WITH ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s AS (\n  SELECT *,\n%s\n  FROM %s\n)\n", current, strings.Join(cols, ",\n"), prev)
		prev = current
	}

	var out []string
	for _, f := range rb.Fields {
		if f.Type == schema.FieldCalculated && exprs[f.Name] == "" {
			out = append(out, "NULL AS "+SQLIdent(f.Name))
			continue
		}
		out = append(out, SQLIdent(f.Name))
	}
	fmt.Fprintf(&b, "SELECT %s FROM %s;\n", strings.Join(out, ", "), prev)

	return &Program{
		Target:      TargetSQLite,
		Filename:    snakeIdent(rb.Name) + ".sql",
		Source:      b.String(),
		Unsupported: issues,
	}, nil
}

// SQLIdent double-quotes a field name for use as a SQLite identifier.
func SQLIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQLColumnType maps a result kind to the column type the runner declares.
func SQLColumnType(k schema.ResultKind) string {
	switch k {
	case schema.ResultBoolean:
		return "INTEGER"
	case schema.ResultNumber:
		return "REAL"
	}
	return "TEXT"
}

type sqlRenderer struct {
	kinds map[string]schema.ResultKind
}

func (r sqlRenderer) expr(n formula.Node) (string, error) {
	switch e := n.(type) {
	case *formula.FieldRef:
		return SQLIdent(e.Name), nil

	case *formula.Const:
		switch e.Lit {
		case formula.LitBool:
			if e.Bool {
				return "1", nil
			}
			return "0", nil
		case formula.LitNumber:
			return sqlNumber(e.Num), nil
		case formula.LitString:
			return sqlString(e.Str), nil
		}
		return "NULL", nil

	case *formula.UnaryOp:
		if err := r.wantKind(e.Operand, schema.ResultNumber, "-"); err != nil {
			return "", err
		}
		x, err := r.expr(e.Operand)
		if err != nil {
			return "", err
		}
		return "(-" + x + ")", nil

	case *formula.BinaryOp:
		return r.binary(e)

	case *formula.FnCall:
		return r.call(e)

	case *formula.Conditional:
		if err := r.wantKind(e.Cond, schema.ResultBoolean, "IF"); err != nil {
			return "", err
		}
		cond, err := r.expr(e.Cond)
		if err != nil {
			return "", err
		}
		then, err := r.expr(e.Then)
		if err != nil {
			return "", err
		}
		els, err := r.expr(e.Else)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(CASE WHEN %s IS NULL THEN NULL WHEN %s THEN %s ELSE %s END)",
			cond, cond, then, els), nil
	}
	return "", fmt.Errorf("unhandled node %T", n)
}

func (r sqlRenderer) binary(e *formula.BinaryOp) (string, error) {
	switch e.Op {
	case formula.OpConcat:
		left, err := r.textPart(e.Left)
		if err != nil {
			return "", err
		}
		right, err := r.textPart(e.Right)
		if err != nil {
			return "", err
		}
		return "(" + left + " || " + right + ")", nil

	case formula.OpAdd, formula.OpSub, formula.OpMul, formula.OpDiv:
		for _, side := range []formula.Node{e.Left, e.Right} {
			if err := r.wantKind(side, schema.ResultNumber, string(e.Op)); err != nil {
				return "", err
			}
		}
		left, err := r.expr(e.Left)
		if err != nil {
			return "", err
		}
		right, err := r.expr(e.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, e.Op, right), nil
	}
	return r.comparison(e)
}

func (r sqlRenderer) comparison(e *formula.BinaryOp) (string, error) {
	lk, lok := inferKind(e.Left, r.kinds)
	rk, rok := inferKind(e.Right, r.kinds)
	left, err := r.expr(e.Left)
	if err != nil {
		return "", err
	}
	right, err := r.expr(e.Right)
	if err != nil {
		return "", err
	}

	if e.Op == formula.OpEq || e.Op == formula.OpNe {
		if lok && rok && lk != rk {
			// never equal across kinds, but null still wins
			result := "0"
			if e.Op == formula.OpNe {
				result = "1"
			}
			return fmt.Sprintf("(CASE WHEN %s IS NULL OR %s IS NULL THEN NULL ELSE %s END)",
				left, right, result), nil
		}
		return fmt.Sprintf("(%s %s %s)", left, e.Op, right), nil
	}

	if lok && rok && lk != rk {
		return "", fmt.Errorf("cannot order %s against %s", lk, rk)
	}
	kind := schema.ResultNumber
	if lok {
		kind = lk
	} else if rok {
		kind = rk
	}
	if kind == schema.ResultBoolean {
		return "", fmt.Errorf("cannot order boolean values")
	}
	return fmt.Sprintf("(%s %s %s)", left, e.Op, right), nil
}

func (r sqlRenderer) call(e *formula.FnCall) (string, error) {
	switch e.Name {
	case "AND", "OR":
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			if err := r.wantKind(a, schema.ResultBoolean, e.Name); err != nil {
				return "", err
			}
			src, err := r.expr(a)
			if err != nil {
				return "", err
			}
			parts[i] = src
		}
		return "(" + strings.Join(parts, " "+e.Name+" ") + ")", nil

	case "NOT":
		if err := r.wantKind(e.Args[0], schema.ResultBoolean, "NOT"); err != nil {
			return "", err
		}
		src, err := r.expr(e.Args[0])
		if err != nil {
			return "", err
		}
		return "(NOT " + src + ")", nil

	case "CONCAT":
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			src, err := r.textPart(a)
			if err != nil {
				return "", err
			}
			parts[i] = src
		}
		return "(" + strings.Join(parts, " || ") + ")", nil

	case "LOWER", "UPPER", "TRIM":
		if err := r.wantKind(e.Args[0], schema.ResultString, e.Name); err != nil {
			return "", err
		}
		src, err := r.expr(e.Args[0])
		if err != nil {
			return "", err
		}
		return strings.ToLower(e.Name) + "(" + src + ")", nil

	case "LEN":
		if err := r.wantKind(e.Args[0], schema.ResultString, "LEN"); err != nil {
			return "", err
		}
		src, err := r.expr(e.Args[0])
		if err != nil {
			return "", err
		}
		// force REAL so downstream division never truncates
		return "CAST(length(" + src + ") AS REAL)", nil
	}
	return "", fmt.Errorf("unhandled function %s", e.Name)
}

// textPart renders a concat operand as text, matching the reference
// evaluator's rendering: null becomes empty, booleans TRUE/FALSE, numbers
// their shortest decimal form.
func (r sqlRenderer) textPart(n formula.Node) (string, error) {
	src, err := r.expr(n)
	if err != nil {
		return "", err
	}
	switch kindOr(n, r.kinds, schema.ResultString) {
	case schema.ResultBoolean:
		return fmt.Sprintf("(CASE WHEN %s IS NULL THEN '' WHEN %s THEN 'TRUE' ELSE 'FALSE' END)",
			src, src), nil
	case schema.ResultNumber:
		return fmt.Sprintf(
			"(CASE WHEN %s IS NULL THEN '' WHEN %s = CAST(%s AS INTEGER) THEN CAST(CAST(%s AS INTEGER) AS TEXT) ELSE CAST(%s AS TEXT) END)",
			src, src, src, src, src), nil
	}
	return "COALESCE(" + src + ", '')", nil
}

func (r sqlRenderer) wantKind(n formula.Node, want schema.ResultKind, ctx string) error {
	if got, ok := inferKind(n, r.kinds); ok && got != want {
		return fmt.Errorf("%s operand is %s, want %s", ctx, got, want)
	}
	return nil
}

// sqlNumber renders a number literal with a decimal point so SQLite treats
// it as REAL; bare integer literals would trigger integer division.
func sqlNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
