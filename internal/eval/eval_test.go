package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// evalOne builds a one-calculated-field rulebook around the formula and
// evaluates it against rec. Raw cells B, B2 (boolean), N, N2 (number) and
// S, S2 (string) are available.
func evalOne(t *testing.T, src string, result schema.ResultKind, rec schema.Record) (schema.Value, error) {
	t.Helper()
	rb := &schema.Rulebook{
		Name: "Scratch",
		Fields: []schema.Field{
			{Name: "Key", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "B", Type: schema.FieldRaw, Result: schema.ResultBoolean},
			{Name: "B2", Type: schema.FieldRaw, Result: schema.ResultBoolean},
			{Name: "N", Type: schema.FieldRaw, Result: schema.ResultNumber},
			{Name: "N2", Type: schema.FieldRaw, Result: schema.ResultNumber},
			{Name: "S", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "S2", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "Out", Type: schema.FieldCalculated, Result: result, Formula: src},
		},
	}
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build(%q): %v", src, err)
	}
	out, err := New(rb, g).EvalRecord(rec)
	if err != nil {
		return schema.Value{}, err
	}
	return out.Get("Out"), nil
}

func mustEvalOne(t *testing.T, src string, result schema.ResultKind, rec schema.Record) schema.Value {
	t.Helper()
	v, err := evalOne(t, src, result, rec)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func TestKleeneLaws(t *testing.T) {
	null := schema.NullValue()
	tr := schema.BoolValue(true)
	fa := schema.BoolValue(false)

	cases := []struct {
		name   string
		src    string
		result schema.ResultKind
		rec    schema.Record
		want   schema.Value
	}{
		{"null AND false is false", "=AND({{B}}, {{B2}})", schema.ResultBoolean,
			schema.Record{"B2": fa}, fa},
		{"null AND true is null", "=AND({{B}}, {{B2}})", schema.ResultBoolean,
			schema.Record{"B2": tr}, null},
		{"null OR true is true", "=OR({{B}}, {{B2}})", schema.ResultBoolean,
			schema.Record{"B2": tr}, tr},
		{"null OR false is null", "=OR({{B}}, {{B2}})", schema.ResultBoolean,
			schema.Record{"B2": fa}, null},
		{"NOT null is null", "=NOT({{B}})", schema.ResultBoolean,
			schema.Record{}, null},
		{"equality with null is null", "={{N}} = 1", schema.ResultBoolean,
			schema.Record{}, null},
		{"inequality with null is null", "={{S}} <> \"x\"", schema.ResultBoolean,
			schema.Record{}, null},
		{"ordering with null is null", "={{N}} > 1", schema.ResultBoolean,
			schema.Record{}, null},
		{"concat renders null empty", "={{S}} & \"x\"", schema.ResultString,
			schema.Record{}, schema.StringValue("x")},
		{"IF null condition is null", "=IF({{B}}, \"a\", \"b\")", schema.ResultString,
			schema.Record{}, null},
		{"arithmetic with null is null", "={{N}} + 1", schema.ResultNumber,
			schema.Record{}, null},
		{"division by zero is null", "={{N}} / {{N2}}", schema.ResultNumber,
			schema.Record{"N": schema.NumberValue(1), "N2": schema.NumberValue(0)}, null},
		{"false dominates over mismatchless null chain",
			"=AND({{B}}, {{B2}}, FALSE())", schema.ResultBoolean,
			schema.Record{"B2": tr}, fa},
		{"LOWER of null is null", "=LOWER({{S}})", schema.ResultString,
			schema.Record{}, null},
		{"LEN counts runes", "=LEN({{S}})", schema.ResultNumber,
			schema.Record{"S": schema.StringValue("héllo")}, schema.NumberValue(5)},
		{"equality across kinds is false", "={{S}} = {{N}}", schema.ResultBoolean,
			schema.Record{"S": schema.StringValue("1"), "N": schema.NumberValue(1)}, fa},
		{"inequality across kinds is true", "={{S}} <> {{N}}", schema.ResultBoolean,
			schema.Record{"S": schema.StringValue("1"), "N": schema.NumberValue(1)}, tr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mustEvalOne(t, tc.src, tc.result, tc.rec)
			if !got.Equal(tc.want) {
				t.Errorf("%s = %s, want %s", tc.src, got, tc.want)
			}
		})
	}
}

func TestHasGrammarScenario(t *testing.T) {
	src := "={{B}} = TRUE()"
	if got := mustEvalOne(t, src, schema.ResultBoolean, schema.Record{"B": schema.BoolValue(true)}); got != schema.BoolValue(true) {
		t.Errorf("true record: %s", got)
	}
	if got := mustEvalOne(t, src, schema.ResultBoolean, schema.Record{"B": schema.BoolValue(false)}); got != schema.BoolValue(false) {
		t.Errorf("false record: %s", got)
	}
	if got := mustEvalOne(t, src, schema.ResultBoolean, schema.Record{}); !got.IsNull() {
		t.Errorf("null record: %s", got)
	}
}

func TestStrictBooleanCoercion(t *testing.T) {
	cases := []struct {
		src string
		rec schema.Record
	}{
		{"=AND({{S}}, TRUE())", schema.Record{"S": schema.StringValue("x")}},
		{"=OR({{N}}, FALSE())", schema.Record{"N": schema.NumberValue(1)}},
		{"=NOT({{N}})", schema.Record{"N": schema.NumberValue(0)}},
		{"=IF({{N}}, 1, 2)", schema.Record{"N": schema.NumberValue(5)}},
	}
	for _, tc := range cases {
		_, err := evalOne(t, tc.src, schema.ResultBoolean, tc.rec)
		var tm *TypeMismatchError
		if !errors.As(err, &tm) {
			t.Errorf("%s: err = %v, want *TypeMismatchError", tc.src, err)
			continue
		}
		if tm.Field != "Out" {
			t.Errorf("%s: error not scoped to field: %+v", tc.src, tm)
		}
	}
}

func TestOrderingAcrossKindsIsMismatch(t *testing.T) {
	_, err := evalOne(t, "={{S}} < {{N}}", schema.ResultBoolean,
		schema.Record{"S": schema.StringValue("a"), "N": schema.NumberValue(1)})
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("err = %v, want *TypeMismatchError", err)
	}
}

func TestIfEvaluatesOnlyTakenBranch(t *testing.T) {
	// the untaken branch would be a type mismatch
	got := mustEvalOne(t, `=IF(TRUE(), "ok", AND({{S}}, TRUE()))`, schema.ResultString,
		schema.Record{"S": schema.StringValue("boom")})
	if got != schema.StringValue("ok") {
		t.Errorf("got %s", got)
	}
}

func TestTwoArgIfFalseIsNull(t *testing.T) {
	got := mustEvalOne(t, `=IF({{B}}, "shown")`, schema.ResultString,
		schema.Record{"B": schema.BoolValue(false)})
	if !got.IsNull() {
		t.Errorf("got %s, want null", got)
	}
}

func TestEmptyStringResultStoresNull(t *testing.T) {
	got := mustEvalOne(t, "={{S}} & {{S2}}", schema.ResultString, schema.Record{})
	if !got.IsNull() {
		t.Errorf("empty concat stored as %s, want null", got)
	}
	got = mustEvalOne(t, `=TRIM("   ")`, schema.ResultString, schema.Record{})
	if !got.IsNull() {
		t.Errorf("trimmed-to-empty stored as %s, want null", got)
	}
	// intermediate empties are untouched: "" = "" compares true
	got = mustEvalOne(t, `=({{S}} & "") = ""`, schema.ResultBoolean,
		schema.Record{"S": schema.StringValue("")})
	if got != schema.BoolValue(true) {
		t.Errorf(`("" & "") = "" evaluated to %s`, got)
	}
}

func candidateRulebook() *schema.Rulebook {
	return &schema.Rulebook{
		Name: "LanguageCandidates",
		Fields: []schema.Field{
			{Name: "Name", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "HasSyntax", Type: schema.FieldRaw, Result: schema.ResultBoolean},
			{Name: "CanBeHeld", Type: schema.FieldRaw, Result: schema.ResultBoolean},
			{Name: "IsLanguage", Type: schema.FieldRaw, Result: schema.ResultBoolean},
			{Name: "DistanceFromConcept", Type: schema.FieldRaw, Result: schema.ResultNumber},
			{Name: "HasGrammar", Type: schema.FieldCalculated, Result: schema.ResultBoolean,
				Formula: "={{HasSyntax}} = TRUE()"},
			{Name: "IsDescriptionOf", Type: schema.FieldCalculated, Result: schema.ResultBoolean,
				Formula: "={{DistanceFromConcept}} > 1"},
			{Name: "PredictedAnswer", Type: schema.FieldCalculated, Result: schema.ResultBoolean,
				Formula: "=AND({{HasGrammar}}, {{IsDescriptionOf}}, NOT({{CanBeHeld}}))"},
			{Name: "PredictionFail", Type: schema.FieldCalculated, Result: schema.ResultString,
				Formula: `=IF(NOT({{PredictedAnswer}} = {{IsLanguage}}), {{Name}} & " is mispredicted")`},
		},
	}
}

func TestEvalRecordMultiLevel(t *testing.T) {
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ev := New(rb, g)

	rec := schema.Record{
		"Name":                schema.StringValue("English"),
		"HasSyntax":           schema.BoolValue(true),
		"CanBeHeld":           schema.BoolValue(false),
		"IsLanguage":          schema.BoolValue(false),
		"DistanceFromConcept": schema.NumberValue(2),
	}
	out, err := ev.EvalRecord(rec)
	if err != nil {
		t.Fatalf("EvalRecord: %v", err)
	}
	if v := out.Get("PredictedAnswer"); v != schema.BoolValue(true) {
		t.Errorf("PredictedAnswer = %s", v)
	}
	if v := out.Get("PredictionFail"); v != schema.StringValue("English is mispredicted") {
		t.Errorf("PredictionFail = %s", v)
	}

	// a null seed stays null through every level
	nullRec := schema.Record{"Name": schema.StringValue("Mystery")}
	out, err = ev.EvalRecord(nullRec)
	if err != nil {
		t.Fatalf("EvalRecord(null): %v", err)
	}
	for _, field := range []string{"HasGrammar", "IsDescriptionOf", "PredictedAnswer", "PredictionFail"} {
		if v := out.Get(field); !v.IsNull() {
			t.Errorf("%s = %s, want null", field, v)
		}
	}
}

func TestEvalFieldComputesDependencyChain(t *testing.T) {
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rec := schema.Record{
		"Name":                schema.StringValue("English"),
		"HasSyntax":           schema.BoolValue(true),
		"CanBeHeld":           schema.BoolValue(false),
		"IsLanguage":          schema.BoolValue(true),
		"DistanceFromConcept": schema.NumberValue(2),
	}
	v, err := New(rb, g).EvalField(rec, "PredictionFail")
	if err != nil {
		t.Fatalf("EvalField: %v", err)
	}
	// prediction matches, so the two-argument IF falls through to null
	if !v.IsNull() {
		t.Errorf("PredictionFail = %s, want null", v)
	}
}

func TestEvalTableParallelDeterministic(t *testing.T) {
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var table schema.Table
	for i := 0; i < 60; i++ {
		table = append(table, schema.Record{
			"Name":                schema.StringValue(fmt.Sprintf("L%03d", i)),
			"HasSyntax":           schema.BoolValue(i%2 == 0),
			"CanBeHeld":           schema.BoolValue(i%3 == 0),
			"IsLanguage":          schema.BoolValue(i%5 == 0),
			"DistanceFromConcept": schema.NumberValue(float64(i % 4)),
		})
	}

	ev := New(rb, g).WithParallelism(8)
	first, err := ev.EvalTable(context.Background(), table)
	if err != nil {
		t.Fatalf("EvalTable: %v", err)
	}
	if len(first) != len(table) {
		t.Fatalf("len = %d, want %d", len(first), len(table))
	}
	for i := range table {
		if first[i].Key(rb) != table[i].Key(rb) {
			t.Fatalf("record %d reordered: %s", i, first[i].Key(rb))
		}
	}

	second, err := New(rb, g).WithParallelism(1).EvalTable(context.Background(), table)
	if err != nil {
		t.Fatalf("EvalTable serial: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("parallel and serial runs disagree:\n%s", diff)
	}
}

func TestEvalTableReportsFailingRecord(t *testing.T) {
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	table := schema.Table{
		{
			"Name":      schema.StringValue("OK"),
			"HasSyntax": schema.BoolValue(true),
		},
		{
			// string where NOT expects a boolean
			"Name":      schema.StringValue("Broken"),
			"HasSyntax": schema.BoolValue(true),
			"CanBeHeld": schema.StringValue("definitely"),
		},
	}
	_, err = New(rb, g).EvalTable(context.Background(), table)
	if err == nil {
		t.Fatal("EvalTable succeeded, want type mismatch")
	}
	if !strings.Contains(err.Error(), "Broken") {
		t.Errorf("error does not name the failing record: %v", err)
	}
	var tm *TypeMismatchError
	if !errors.As(err, &tm) || tm.Field != "PredictedAnswer" {
		t.Errorf("err = %v, want TypeMismatchError on PredictedAnswer", err)
	}
}
