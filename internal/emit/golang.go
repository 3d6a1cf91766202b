package emit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rulecast/internal/formula"
	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

// golangEmitter renders a rulebook as a self-contained package main source:
// a Record struct with pointer-typed cells (nil = null), one calc function
// per calculated field, a null-aware helper kernel, and an exported
// EvalTable(inputJSON) entry point the yaegi runner fetches by symbol.
type golangEmitter struct{}

// NewGolang returns the reference emitter. It covers every construct of the
// formula language except conditionals whose branches have different static
// types, which a typed target cannot represent.
func NewGolang() Emitter { return golangEmitter{} }

func (golangEmitter) Target() string { return TargetGolang }

func (golangEmitter) Emit(rb *schema.Rulebook, g *graph.Graph) (*Program, error) {
	for _, f := range rb.Fields {
		if strings.ContainsAny(f.Name, "\",\\`") {
			return nil, fmt.Errorf("field name %q cannot be encoded in a JSON struct tag", f.Name)
		}
	}

	ids := identTable(rb, goIdent)
	r := goRenderer{ids: ids, kinds: fieldKinds(rb)}

	var calcs []string
	var assigns []string
	_, issues, err := planFields(rb, g, func(name string) error {
		f, _ := rb.Field(name)
		tree, _ := g.Formula(name)
		expr, err := r.expr(tree)
		if err != nil {
			var uc *UnsupportedConstructError
			if errors.As(err, &uc) {
				uc.Field = name
			}
			return err
		}
		calcs = append(calcs, fmt.Sprintf("func calc%s(r *Record) %s {\n\treturn %s\n}",
			ids[name], goPtrType(f.Result), expr))
		call := fmt.Sprintf("calc%s(r)", ids[name])
		if f.Result == schema.ResultString {
			// calculated text that renders empty is stored as null
			call = "nullIfEmpty(" + call + ")"
		}
		assigns = append(assigns, fmt.Sprintf("\tr.%s = %s", ids[name], call))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated for rulebook %q. DO NOT EDIT.\n", rb.Name)
	b.WriteString("package main\n\nimport (\n\t\"encoding/json\"\n\t\"strconv\"\n\t\"strings\"\n)\n\n")

	b.WriteString("type Record struct {\n")
	for _, f := range rb.Fields {
		fmt.Fprintf(&b, "\t%s %s `json:\"%s,omitempty\"`\n", ids[f.Name], goPtrType(f.Result), f.Name)
	}
	b.WriteString("}\n\n")

	b.WriteString(golangKernel)
	b.WriteString("\n")
	for _, fn := range calcs {
		b.WriteString(fn)
		b.WriteString("\n\n")
	}

	b.WriteString("func apply(r *Record) {\n")
	for _, a := range assigns {
		b.WriteString(a)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")

	b.WriteString(`func EvalTable(inputJSON string) (string, error) {
	var records []*Record
	if err := json.Unmarshal([]byte(inputJSON), &records); err != nil {
		return "", err
	}
	for _, r := range records {
		apply(r)
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
`)

	return &Program{
		Target:      TargetGolang,
		Filename:    snakeIdent(rb.Name) + ".go",
		Source:      b.String(),
		Unsupported: issues,
	}, nil
}

type goRenderer struct {
	ids   map[string]string
	kinds map[string]schema.ResultKind
}

func (r goRenderer) expr(n formula.Node) (string, error) {
	switch e := n.(type) {
	case *formula.FieldRef:
		return "r." + r.ids[e.Name], nil

	case *formula.Const:
		switch e.Lit {
		case formula.LitBool:
			return fmt.Sprintf("ptrBool(%t)", e.Bool), nil
		case formula.LitNumber:
			return fmt.Sprintf("ptrNum(%s)", strconv.FormatFloat(e.Num, 'f', -1, 64)), nil
		case formula.LitString:
			return "ptrStr(" + strconv.Quote(e.Str) + ")", nil
		}
		return "nil", nil

	case *formula.UnaryOp:
		if err := r.wantKind(e.Operand, schema.ResultNumber, "-"); err != nil {
			return "", err
		}
		x, err := r.expr(e.Operand)
		if err != nil {
			return "", err
		}
		return "kNeg(" + x + ")", nil

	case *formula.BinaryOp:
		return r.binary(e)

	case *formula.FnCall:
		return r.call(e)

	case *formula.Conditional:
		return r.conditional(e)
	}
	return "", fmt.Errorf("unhandled node %T", n)
}

func (r goRenderer) binary(e *formula.BinaryOp) (string, error) {
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
		return fmt.Sprintf("kCat(%s, %s)", left, right), nil

	case formula.OpAdd, formula.OpSub, formula.OpMul, formula.OpDiv:
		names := map[formula.Op]string{
			formula.OpAdd: "kAdd", formula.OpSub: "kSub",
			formula.OpMul: "kMul", formula.OpDiv: "kDiv",
		}
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
		return fmt.Sprintf("%s(%s, %s)", names[e.Op], left, right), nil
	}
	return r.comparison(e)
}

func (r goRenderer) comparison(e *formula.BinaryOp) (string, error) {
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
		var src string
		if lok && rok && lk != rk {
			// values of different kinds are never equal, though null still wins
			src = fmt.Sprintf("kEqMixed(%s, %s)", left, right)
		} else {
			kind := schema.ResultString
			if lok {
				kind = lk
			} else if rok {
				kind = rk
			}
			src = fmt.Sprintf("kEq%s(%s, %s)", goKindSuffix(kind), left, right)
		}
		if e.Op == formula.OpNe {
			src = "kNot(" + src + ")"
		}
		return src, nil
	}

	// ordering
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
	names := map[formula.Op]string{
		formula.OpLt: "kLt", formula.OpGt: "kGt",
		formula.OpLe: "kLe", formula.OpGe: "kGe",
	}
	return fmt.Sprintf("%s%s(%s, %s)", names[e.Op], goKindSuffix(kind), left, right), nil
}

func (r goRenderer) call(e *formula.FnCall) (string, error) {
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
		fn := "kAnd"
		if e.Name == "OR" {
			fn = "kOr"
		}
		return fn + "(" + strings.Join(parts, ", ") + ")", nil

	case "NOT":
		if err := r.wantKind(e.Args[0], schema.ResultBoolean, "NOT"); err != nil {
			return "", err
		}
		src, err := r.expr(e.Args[0])
		if err != nil {
			return "", err
		}
		return "kNot(" + src + ")", nil

	case "CONCAT":
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			src, err := r.textPart(a)
			if err != nil {
				return "", err
			}
			parts[i] = src
		}
		return "kCat(" + strings.Join(parts, ", ") + ")", nil

	case "LOWER", "UPPER", "TRIM", "LEN":
		if err := r.wantKind(e.Args[0], schema.ResultString, e.Name); err != nil {
			return "", err
		}
		src, err := r.expr(e.Args[0])
		if err != nil {
			return "", err
		}
		fn := map[string]string{"LOWER": "kLower", "UPPER": "kUpper", "TRIM": "kTrim", "LEN": "kLen"}[e.Name]
		return fn + "(" + src + ")", nil
	}
	return "", fmt.Errorf("unhandled function %s", e.Name)
}

func (r goRenderer) conditional(e *formula.Conditional) (string, error) {
	if err := r.wantKind(e.Cond, schema.ResultBoolean, "IF"); err != nil {
		return "", err
	}
	tk, tok := inferKind(e.Then, r.kinds)
	ek, eok := inferKind(e.Else, r.kinds)
	if tok && eok && tk != ek {
		return "", &UnsupportedConstructError{
			Target:    TargetGolang,
			Construct: fmt.Sprintf("IF with mixed branch types (%s and %s)", tk, ek),
		}
	}
	kind := schema.ResultString
	if tok {
		kind = tk
	} else if eok {
		kind = ek
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
	return fmt.Sprintf("kIf%s(%s, %s, %s)", goKindSuffix(kind), cond, then, els), nil
}

// textPart renders a concat operand already wrapped in its text renderer.
func (r goRenderer) textPart(n formula.Node) (string, error) {
	src, err := r.expr(n)
	if err != nil {
		return "", err
	}
	switch kindOr(n, r.kinds, schema.ResultString) {
	case schema.ResultBoolean:
		return "sBool(" + src + ")", nil
	case schema.ResultNumber:
		return "sNum(" + src + ")", nil
	}
	return "sStr(" + src + ")", nil
}

// wantKind rejects operands whose static kind contradicts the operator. Open
// kinds pass; they resolve to null at runtime.
func (r goRenderer) wantKind(n formula.Node, want schema.ResultKind, ctx string) error {
	if got, ok := inferKind(n, r.kinds); ok && got != want {
		return fmt.Errorf("%s operand is %s, want %s", ctx, got, want)
	}
	return nil
}

func goPtrType(k schema.ResultKind) string {
	switch k {
	case schema.ResultBoolean:
		return "*bool"
	case schema.ResultNumber:
		return "*float64"
	}
	return "*string"
}

func goKindSuffix(k schema.ResultKind) string {
	switch k {
	case schema.ResultBoolean:
		return "Bool"
	case schema.ResultNumber:
		return "Num"
	}
	return "Str"
}

// golangKernel is the null-aware runtime every emitted program carries.
// Booleans fold the way three-valued AND/OR require; division by zero and
// every operation on nil yields nil.
const golangKernel = `func ptrBool(v bool) *bool      { return &v }
func ptrNum(v float64) *float64 { return &v }
func ptrStr(v string) *string   { return &v }

func isNull(v interface{}) bool {
	switch p := v.(type) {
	case *bool:
		return p == nil
	case *float64:
		return p == nil
	case *string:
		return p == nil
	}
	return true
}

func kNot(a *bool) *bool {
	if a == nil {
		return nil
	}
	return ptrBool(!*a)
}

func kAnd(vs ...*bool) *bool {
	sawNull := false
	for _, v := range vs {
		if v == nil {
			sawNull = true
		} else if !*v {
			return ptrBool(false)
		}
	}
	if sawNull {
		return nil
	}
	return ptrBool(true)
}

func kOr(vs ...*bool) *bool {
	sawNull := false
	for _, v := range vs {
		if v == nil {
			sawNull = true
		} else if *v {
			return ptrBool(true)
		}
	}
	if sawNull {
		return nil
	}
	return ptrBool(false)
}

func kIfBool(c, a, b *bool) *bool {
	if c == nil {
		return nil
	}
	if *c {
		return a
	}
	return b
}

func kIfNum(c *bool, a, b *float64) *float64 {
	if c == nil {
		return nil
	}
	if *c {
		return a
	}
	return b
}

func kIfStr(c *bool, a, b *string) *string {
	if c == nil {
		return nil
	}
	if *c {
		return a
	}
	return b
}

func kEqBool(a, b *bool) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a == *b)
}

func kEqNum(a, b *float64) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a == *b)
}

func kEqStr(a, b *string) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a == *b)
}

func kEqMixed(a, b interface{}) *bool {
	if isNull(a) || isNull(b) {
		return nil
	}
	return ptrBool(false)
}

func kLtNum(a, b *float64) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a < *b)
}

func kLeNum(a, b *float64) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a <= *b)
}

func kGtNum(a, b *float64) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a > *b)
}

func kGeNum(a, b *float64) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a >= *b)
}

func kLtStr(a, b *string) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a < *b)
}

func kLeStr(a, b *string) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a <= *b)
}

func kGtStr(a, b *string) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a > *b)
}

func kGeStr(a, b *string) *bool {
	if a == nil || b == nil {
		return nil
	}
	return ptrBool(*a >= *b)
}

func kAdd(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a + *b
	return &v
}

func kSub(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a - *b
	return &v
}

func kMul(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a * *b
	return &v
}

func kDiv(a, b *float64) *float64 {
	if a == nil || b == nil || *b == 0 {
		return nil
	}
	v := *a / *b
	return &v
}

func kNeg(a *float64) *float64 {
	if a == nil {
		return nil
	}
	v := -*a
	return &v
}

func sBool(v *bool) string {
	if v == nil {
		return ""
	}
	if *v {
		return "TRUE"
	}
	return "FALSE"
}

func sNum(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func sStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func kCat(parts ...string) *string {
	s := strings.Join(parts, "")
	return &s
}

func kLower(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.ToLower(*v)
	return &s
}

func kUpper(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.ToUpper(*v)
	return &s
}

func kTrim(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.Trim(*v, " ")
	return &s
}

func kLen(v *string) *float64 {
	if v == nil {
		return nil
	}
	n := float64(len([]rune(*v)))
	return &n
}

func nullIfEmpty(v *string) *string {
	if v != nil && *v == "" {
		return nil
	}
	return v
}
`
