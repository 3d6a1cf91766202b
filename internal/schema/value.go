package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is one cell: null, or a boolean, number or string. The zero Value is
// null. Values are immutable and safe to copy.
type Value struct {
	Kind ValueKind
	Bool bool
	Num  float64
	Str  string
}

func NullValue() Value            { return Value{} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Truth returns the boolean behind v; ok is false when v is not a boolean.
func (v Value) Truth() (val bool, ok bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// Equal is strict: same kind, same payload. Nulls are equal to each other;
// this is identity for storage and tests, not the three-valued `=` operator.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	default:
		return true
	}
}

// String renders a debug spelling; cells render as their JSON form.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	got, err := FromGo(raw)
	if err != nil {
		return err
	}
	*v = got
	return nil
}

// FromGo converts a decoded JSON (or database) scalar into a Value. Integers
// widen to float64; unsupported shapes (arrays, objects) are an error.
func FromGo(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(x), nil
	case float64:
		return NumberValue(x), nil
	case int:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("failed to decode number %q: %w", x.String(), err)
		}
		return NumberValue(f), nil
	case string:
		return StringValue(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported cell value of type %T", raw)
	}
}
