// Package eval is the reference evaluator: it walks parsed formulas over
// records with three-valued (Kleene) logic and produces the answer key every
// target is graded against. Null propagates through comparisons and
// arithmetic, false dominates AND, true dominates OR, and concatenation
// treats null as the empty string. Boolean positions are strict: a non-bool,
// non-null operand is a TypeMismatchError, never a truthy coercion.
package eval

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"rulecast/internal/formula"
	"rulecast/internal/schema"
)

// TypeMismatchError reports an operand of the wrong kind. It is scoped to
// the field whose formula tripped it; Field is filled in by the evaluator.
type TypeMismatchError struct {
	Field string
	Op    string
	Want  string
	Got   schema.ValueKind
}

func (e *TypeMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s got %s operand, want %s", e.Op, e.Got, e.Want)
	}
	return fmt.Sprintf("field %q: %s got %s operand, want %s", e.Field, e.Op, e.Got, e.Want)
}

func mismatch(op, want string, got schema.Value) error {
	return &TypeMismatchError{Op: op, Want: want, Got: got.Kind}
}

// kleeneAnd folds operands with false dominant: any false wins, otherwise
// any null wins, otherwise true. Operands are all evaluated and all must be
// boolean or null.
func kleeneAnd(vals []schema.Value) (schema.Value, error) {
	sawNull := false
	result := true
	for _, v := range vals {
		switch v.Kind {
		case schema.KindNull:
			sawNull = true
		case schema.KindBool:
			if !v.Bool {
				result = false
			}
		default:
			return schema.Value{}, mismatch("AND", "boolean", v)
		}
	}
	if !result {
		return schema.BoolValue(false), nil
	}
	if sawNull {
		return schema.NullValue(), nil
	}
	return schema.BoolValue(true), nil
}

// kleeneOr folds operands with true dominant.
func kleeneOr(vals []schema.Value) (schema.Value, error) {
	sawNull := false
	result := false
	for _, v := range vals {
		switch v.Kind {
		case schema.KindNull:
			sawNull = true
		case schema.KindBool:
			if v.Bool {
				result = true
			}
		default:
			return schema.Value{}, mismatch("OR", "boolean", v)
		}
	}
	if result {
		return schema.BoolValue(true), nil
	}
	if sawNull {
		return schema.NullValue(), nil
	}
	return schema.BoolValue(false), nil
}

func kleeneNot(v schema.Value) (schema.Value, error) {
	switch v.Kind {
	case schema.KindNull:
		return schema.NullValue(), nil
	case schema.KindBool:
		return schema.BoolValue(!v.Bool), nil
	default:
		return schema.Value{}, mismatch("NOT", "boolean", v)
	}
}

// compare implements = <> < > <= >=. Any null operand yields null. Equality
// across kinds is false; ordering across kinds (or on booleans) is a type
// mismatch. String ordering is byte-wise.
func compare(op formula.Op, a, b schema.Value) (schema.Value, error) {
	if a.IsNull() || b.IsNull() {
		return schema.NullValue(), nil
	}

	switch op {
	case formula.OpEq:
		return schema.BoolValue(a.Equal(b)), nil
	case formula.OpNe:
		return schema.BoolValue(!a.Equal(b)), nil
	}

	if a.Kind != b.Kind {
		return schema.Value{}, mismatch(string(op), a.Kind.String(), b)
	}
	var lt, eq bool
	switch a.Kind {
	case schema.KindNumber:
		lt, eq = a.Num < b.Num, a.Num == b.Num
	case schema.KindString:
		lt, eq = a.Str < b.Str, a.Str == b.Str
	default:
		return schema.Value{}, mismatch(string(op), "number or string", a)
	}

	switch op {
	case formula.OpLt:
		return schema.BoolValue(lt), nil
	case formula.OpGt:
		return schema.BoolValue(!lt && !eq), nil
	case formula.OpLe:
		return schema.BoolValue(lt || eq), nil
	case formula.OpGe:
		return schema.BoolValue(!lt), nil
	default:
		return schema.Value{}, fmt.Errorf("unsupported comparison %q", op)
	}
}

// arith implements + - * /. Null propagates; division by zero is null, the
// convention the SQL target gets for free.
func arith(op formula.Op, a, b schema.Value) (schema.Value, error) {
	if a.IsNull() || b.IsNull() {
		return schema.NullValue(), nil
	}
	if a.Kind != schema.KindNumber {
		return schema.Value{}, mismatch(string(op), "number", a)
	}
	if b.Kind != schema.KindNumber {
		return schema.Value{}, mismatch(string(op), "number", b)
	}
	switch op {
	case formula.OpAdd:
		return schema.NumberValue(a.Num + b.Num), nil
	case formula.OpSub:
		return schema.NumberValue(a.Num - b.Num), nil
	case formula.OpMul:
		return schema.NumberValue(a.Num * b.Num), nil
	case formula.OpDiv:
		if b.Num == 0 {
			return schema.NullValue(), nil
		}
		return schema.NumberValue(a.Num / b.Num), nil
	default:
		return schema.Value{}, fmt.Errorf("unsupported arithmetic operator %q", op)
	}
}

func negate(v schema.Value) (schema.Value, error) {
	switch v.Kind {
	case schema.KindNull:
		return schema.NullValue(), nil
	case schema.KindNumber:
		return schema.NumberValue(-v.Num), nil
	default:
		return schema.Value{}, mismatch("-", "number", v)
	}
}

// RenderText is the concatenation rendering: null is "", booleans spell
// TRUE/FALSE, numbers use their minimal decimal form. Emitters reproduce
// exactly this in every target.
func RenderText(v schema.Value) string {
	switch v.Kind {
	case schema.KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case schema.KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case schema.KindString:
		return v.Str
	default:
		return ""
	}
}

func concatValues(vals []schema.Value) schema.Value {
	var sb strings.Builder
	for _, v := range vals {
		sb.WriteString(RenderText(v))
	}
	return schema.StringValue(sb.String())
}

// stringFn implements LOWER, UPPER, TRIM and LEN. Null in, null out.
func stringFn(name string, v schema.Value) (schema.Value, error) {
	if v.IsNull() {
		return schema.NullValue(), nil
	}
	if v.Kind != schema.KindString {
		return schema.Value{}, mismatch(name, "string", v)
	}
	switch name {
	case "LOWER":
		return schema.StringValue(strings.ToLower(v.Str)), nil
	case "UPPER":
		return schema.StringValue(strings.ToUpper(v.Str)), nil
	case "TRIM":
		// space characters only, the Excel behavior; SQLite TRIM agrees
		return schema.StringValue(strings.Trim(v.Str, " ")), nil
	case "LEN":
		return schema.NumberValue(float64(utf8.RuneCountInString(v.Str))), nil
	default:
		return schema.Value{}, fmt.Errorf("unsupported string function %q", name)
	}
}
