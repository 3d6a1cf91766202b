package grade

import (
	"math"
	"strconv"
	"strings"

	"rulecast/internal/schema"
)

// Normalize coerces a decoded cell toward the declared field kind before
// comparison. Targets decode through their own type systems, so a boolean
// may arrive as 0/1 or as the text "true"/"false", and a number may arrive
// as its text rendering. Values that do not fit the kind pass through
// unchanged and fail the comparison on their own.
func Normalize(kind schema.ResultKind, v schema.Value) schema.Value {
	if v.IsNull() {
		return v
	}
	switch kind {
	case schema.ResultBoolean:
		switch v.Kind {
		case schema.KindNumber:
			if v.Num == 0 {
				return schema.BoolValue(false)
			}
			if v.Num == 1 {
				return schema.BoolValue(true)
			}
		case schema.KindString:
			if strings.EqualFold(v.Str, "true") {
				return schema.BoolValue(true)
			}
			if strings.EqualFold(v.Str, "false") {
				return schema.BoolValue(false)
			}
		}
	case schema.ResultNumber:
		if v.Kind == schema.KindString {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return schema.NumberValue(f)
			}
		}
	}
	return v
}

// EqualCells reports whether a target cell agrees with the answer key cell
// for a field of the given kind. Numbers compare within epsilon; strings
// compare exactly, case differences included; null only matches null.
func EqualCells(kind schema.ResultKind, want, got schema.Value, epsilon float64) bool {
	w := Normalize(kind, want)
	g := Normalize(kind, got)
	if w.IsNull() || g.IsNull() {
		return w.IsNull() && g.IsNull()
	}
	if kind == schema.ResultNumber && w.Kind == schema.KindNumber && g.Kind == schema.KindNumber {
		return math.Abs(w.Num-g.Num) <= epsilon
	}
	return w.Equal(g)
}
