package eval

import (
	"testing"

	"rulecast/internal/schema"
)

func TestRenderText(t *testing.T) {
	cases := []struct {
		v    schema.Value
		want string
	}{
		{schema.NullValue(), ""},
		{schema.BoolValue(true), "TRUE"},
		{schema.BoolValue(false), "FALSE"},
		{schema.NumberValue(7), "7"},
		{schema.NumberValue(7.5), "7.5"},
		{schema.NumberValue(-0.25), "-0.25"},
		{schema.StringValue("héllo"), "héllo"},
	}
	for _, tc := range cases {
		if got := RenderText(tc.v); got != tc.want {
			t.Errorf("RenderText(%s) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestConcatRendersMinimalDecimals(t *testing.T) {
	got := mustEvalOne(t, "=1 & 2.50", schema.ResultString, schema.Record{})
	if got != schema.StringValue("12.5") {
		t.Errorf("1 & 2.50 = %s", got)
	}
	got = mustEvalOne(t, "={{B}} & \"!\"", schema.ResultString,
		schema.Record{"B": schema.BoolValue(true)})
	if got != schema.StringValue("TRUE!") {
		t.Errorf("TRUE & \"!\" = %s", got)
	}
}

func TestTrimRemovesSpacesOnly(t *testing.T) {
	got := mustEvalOne(t, `=TRIM("\t x ")`, schema.ResultString, schema.Record{})
	if got != schema.StringValue("\t x") {
		t.Errorf("TRIM kept %q, want %q", got.Str, "\t x")
	}
}

func TestCaseFunctions(t *testing.T) {
	got := mustEvalOne(t, `=UPPER(LOWER("MixEd"))`, schema.ResultString, schema.Record{})
	if got != schema.StringValue("MIXED") {
		t.Errorf("UPPER(LOWER(...)) = %s", got)
	}
}
