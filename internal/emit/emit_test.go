package emit

import (
	"strings"
	"testing"

	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

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

func mustBuild(t *testing.T, rb *schema.Rulebook) *graph.Graph {
	t.Helper()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func mustEmit(t *testing.T, e Emitter, rb *schema.Rulebook) *Program {
	t.Helper()
	g := mustBuild(t, rb)
	p, err := e.Emit(rb, g)
	if err != nil {
		t.Fatalf("%s Emit: %v", e.Target(), err)
	}
	return p
}

func assertContains(t *testing.T, src string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(src, want) {
			t.Errorf("source missing %q\n%s", want, src)
		}
	}
}

func TestByTarget(t *testing.T) {
	for _, name := range Targets() {
		e, err := ByTarget(name)
		if err != nil {
			t.Fatalf("ByTarget(%q): %v", name, err)
		}
		if e.Target() != name {
			t.Errorf("ByTarget(%q).Target() = %q", name, e.Target())
		}
	}
	if _, err := ByTarget("cobol"); err == nil {
		t.Error("ByTarget accepted an unknown target")
	}
}

func TestGolangEmit(t *testing.T) {
	p := mustEmit(t, NewGolang(), candidateRulebook())
	if p.Filename != "language_candidates.go" {
		t.Errorf("Filename = %q", p.Filename)
	}
	if len(p.Unsupported) != 0 {
		t.Fatalf("unexpected issues: %+v", p.Unsupported)
	}
	assertContains(t, p.Source,
		"package main",
		"HasSyntax *bool `json:\"HasSyntax,omitempty\"`",
		"DistanceFromConcept *float64 `json:\"DistanceFromConcept,omitempty\"`",
		"func calcHasGrammar(r *Record) *bool {\n\treturn kEqBool(r.HasSyntax, ptrBool(true))\n}",
		"kGtNum(r.DistanceFromConcept, ptrNum(1))",
		"kAnd(r.HasGrammar, r.IsDescriptionOf, kNot(r.CanBeHeld))",
		"r.PredictionFail = nullIfEmpty(calcPredictionFail(r))",
		`kCat(sStr(r.Name), sStr(ptrStr(" is mispredicted")))`,
		"func EvalTable(inputJSON string) (string, error)",
	)
	// calculated fields assign in level order
	answer := strings.Index(p.Source, "r.PredictedAnswer = calcPredictedAnswer(r)")
	fail := strings.Index(p.Source, "r.PredictionFail = nullIfEmpty(calcPredictionFail(r))")
	grammar := strings.Index(p.Source, "r.HasGrammar = calcHasGrammar(r)")
	if grammar == -1 || answer == -1 || fail == -1 || !(grammar < answer && answer < fail) {
		t.Errorf("apply assignments out of level order (%d, %d, %d)", grammar, answer, fail)
	}
}

func TestGolangEmitDeterministic(t *testing.T) {
	rb := candidateRulebook()
	first := mustEmit(t, NewGolang(), rb).Source
	second := mustEmit(t, NewGolang(), rb).Source
	if first != second {
		t.Error("two emissions of the same rulebook differ")
	}
}

func TestGolangMixedBranchesDropField(t *testing.T) {
	rb := &schema.Rulebook{
		Name: "Mixed",
		Fields: []schema.Field{
			{Name: "Flag", Type: schema.FieldRaw, Result: schema.ResultBoolean},
			{Name: "Odd", Type: schema.FieldCalculated, Result: schema.ResultString,
				Formula: `=IF({{Flag}}, "x", 1)`},
			{Name: "Downstream", Type: schema.FieldCalculated, Result: schema.ResultBoolean,
				Formula: `={{Odd}} = "x"`},
		},
	}
	p := mustEmit(t, NewGolang(), rb)
	if len(p.Unsupported) != 2 {
		t.Fatalf("issues = %+v, want Odd plus cascade", p.Unsupported)
	}
	if p.Unsupported[0].Field != "Odd" || !strings.Contains(p.Unsupported[0].Construct, "mixed branch types") {
		t.Errorf("issue[0] = %+v", p.Unsupported[0])
	}
	if p.Unsupported[1].Field != "Downstream" || !strings.Contains(p.Unsupported[1].Reason, `dropped field "Odd"`) {
		t.Errorf("issue[1] = %+v", p.Unsupported[1])
	}
	if p.Covers("Odd") || !p.Covers("Flag") {
		t.Error("Covers disagrees with Unsupported")
	}
	if strings.Contains(p.Source, "calcOdd") {
		t.Error("dropped field still has a calc function")
	}
}

func TestGolangOrderingAcrossKindsFails(t *testing.T) {
	rb := &schema.Rulebook{
		Name: "Bad",
		Fields: []schema.Field{
			{Name: "S", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "Out", Type: schema.FieldCalculated, Result: schema.ResultBoolean,
				Formula: "={{S}} < 1"},
		},
	}
	g := mustBuild(t, rb)
	if _, err := NewGolang().Emit(rb, g); err == nil {
		t.Error("Emit accepted ordering across kinds")
	}
}

func TestSQLiteEmit(t *testing.T) {
	p := mustEmit(t, NewSQLite(), candidateRulebook())
	if p.Filename != "language_candidates.sql" {
		t.Errorf("Filename = %q", p.Filename)
	}
	if len(p.Unsupported) != 0 {
		t.Fatalf("unexpected issues: %+v", p.Unsupported)
	}
	assertContains(t, p.Source,
		"WITH level1 AS (",
		", level2 AS (",
		", level3 AS (",
		`("HasSyntax" = 1) AS "HasGrammar"`,
		`("DistanceFromConcept" > 1.0) AS "IsDescriptionOf"`,
		`("HasGrammar" AND "IsDescriptionOf" AND (NOT "CanBeHeld")) AS "PredictedAnswer"`,
		`NULLIF(`,
		`COALESCE("Name", '')`,
		`FROM level3`,
	)
	if !strings.HasSuffix(strings.TrimSpace(p.Source), ";") {
		t.Error("query does not end with a statement terminator")
	}
	// the final projection lists every field in declaration order
	last := p.Source[strings.LastIndex(p.Source, "SELECT"):]
	assertContains(t, last, `"Name", "HasSyntax", "CanBeHeld", "IsLanguage", "DistanceFromConcept", "HasGrammar", "IsDescriptionOf", "PredictedAnswer", "PredictionFail"`)
}

func TestSQLiteRawOnlyRulebook(t *testing.T) {
	rb := &schema.Rulebook{
		Name: "Plain",
		Fields: []schema.Field{
			{Name: "A", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "B", Type: schema.FieldRaw, Result: schema.ResultNumber},
		},
	}
	p := mustEmit(t, NewSQLite(), rb)
	if strings.Contains(p.Source, "WITH") {
		t.Error("raw-only rulebook should not need CTEs")
	}
	assertContains(t, p.Source, `SELECT "A", "B" FROM records;`)
}

func TestSQLIdentQuoting(t *testing.T) {
	if got := SQLIdent(`odd"name`); got != `"odd""name"` {
		t.Errorf("SQLIdent = %s", got)
	}
	if got := SQLColumnType(schema.ResultBoolean); got != "INTEGER" {
		t.Errorf("boolean column = %s", got)
	}
}

func TestDatalogEmit(t *testing.T) {
	p := mustEmit(t, NewDatalog(), candidateRulebook())
	if p.Filename != "language_candidates.mg" {
		t.Errorf("Filename = %q", p.Filename)
	}

	// HasGrammar encodes; the ordering, the AND over a dropped dependency and
	// the concatenation do not
	wantIssues := []struct{ field, reason string }{
		{"IsDescriptionOf", "operator >"},
		{"PredictedAnswer", `dropped field "IsDescriptionOf"`},
		{"PredictionFail", `dropped field "PredictedAnswer"`},
	}
	if len(p.Unsupported) != len(wantIssues) {
		t.Fatalf("issues = %+v", p.Unsupported)
	}
	for i, want := range wantIssues {
		got := p.Unsupported[i]
		if got.Field != want.field || !(strings.Contains(got.Reason, want.reason) || got.Construct == want.reason) {
			t.Errorf("issue[%d] = %+v, want %v", i, got, want)
		}
	}

	assertContains(t, p.Source,
		"Decl record(Rec).",
		"Decl raw_has_syntax(Rec, V).",
		"Decl calc_has_grammar(Rec, V).",
		"has_grammar_e1_t(Rec) :- raw_has_syntax(Rec, /true).",
		"has_grammar_e1(Rec, /true) :- has_grammar_e1_t(Rec).",
		"has_grammar_e1(Rec, /false) :- raw_has_syntax(Rec, W1), !has_grammar_e1_t(Rec).",
		"calc_has_grammar(Rec, V) :- has_grammar_e1(Rec, V).",
	)
	if strings.Contains(p.Source, "Decl calc_prediction_fail") {
		t.Error("dropped field still declared")
	}
}

func TestDatalogValueConvention(t *testing.T) {
	text, isName, ok := DatalogConstant(schema.BoolValue(true))
	if text != "/true" || !isName || !ok {
		t.Errorf("bool constant = %q %v %v", text, isName, ok)
	}
	text, isName, ok = DatalogConstant(schema.NumberValue(2.5))
	if text != "2.5" || isName || !ok {
		t.Errorf("number constant = %q %v %v", text, isName, ok)
	}
	if _, _, ok := DatalogConstant(schema.NullValue()); ok {
		t.Error("null produced a constant")
	}

	v, err := DatalogDecode("/false", schema.ResultBoolean)
	if err != nil || v != schema.BoolValue(false) {
		t.Errorf("decode bool = %s, %v", v, err)
	}
	v, err = DatalogDecode("3", schema.ResultNumber)
	if err != nil || v != schema.NumberValue(3) {
		t.Errorf("decode number = %s, %v", v, err)
	}
	if _, err := DatalogDecode("maybe", schema.ResultBoolean); err == nil {
		t.Error("decode accepted a malformed boolean fact")
	}
}

func TestIdentRenderers(t *testing.T) {
	cases := []struct{ in, camel, snake string }{
		{"HasGrammar", "HasGrammar", "has_grammar"},
		{"full name", "FullName", "full_name"},
		{"2nd Pass", "F2ndPass", "f2nd_pass"},
		{"Price (USD)", "PriceUSD", "price_usd"},
	}
	for _, tc := range cases {
		if got := goIdent(tc.in); got != tc.camel {
			t.Errorf("goIdent(%q) = %q, want %q", tc.in, got, tc.camel)
		}
		if got := snakeIdent(tc.in); got != tc.snake {
			t.Errorf("snakeIdent(%q) = %q, want %q", tc.in, got, tc.snake)
		}
	}
}
