package grade

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rulecast/internal/emit"
	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		kind schema.ResultKind
		in   schema.Value
		want schema.Value
	}{
		{"bool stays", schema.ResultBoolean, schema.BoolValue(true), schema.BoolValue(true)},
		{"one is true", schema.ResultBoolean, schema.NumberValue(1), schema.BoolValue(true)},
		{"zero is false", schema.ResultBoolean, schema.NumberValue(0), schema.BoolValue(false)},
		{"TRUE text", schema.ResultBoolean, schema.StringValue("TRUE"), schema.BoolValue(true)},
		{"False text", schema.ResultBoolean, schema.StringValue("False"), schema.BoolValue(false)},
		{"two stays loose", schema.ResultBoolean, schema.NumberValue(2), schema.NumberValue(2)},
		{"numeric text", schema.ResultNumber, schema.StringValue("2.5"), schema.NumberValue(2.5)},
		{"padded numeric text", schema.ResultNumber, schema.StringValue(" 7 "), schema.NumberValue(7)},
		{"bad numeric text", schema.ResultNumber, schema.StringValue("x"), schema.StringValue("x")},
		{"string untouched", schema.ResultString, schema.StringValue("Hi"), schema.StringValue("Hi")},
		{"null untouched", schema.ResultBoolean, schema.NullValue(), schema.NullValue()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.kind, tc.in); !got.Equal(tc.want) || got.Kind != tc.want.Kind {
				t.Errorf("Normalize(%s, %s) = %s, want %s", tc.kind, tc.in, got, tc.want)
			}
		})
	}
}

func TestEqualCells(t *testing.T) {
	eps := 1e-9
	cases := []struct {
		name  string
		kind  schema.ResultKind
		want  schema.Value
		got   schema.Value
		equal bool
	}{
		{"bool vs one", schema.ResultBoolean, schema.BoolValue(true), schema.NumberValue(1), true},
		{"bool vs text", schema.ResultBoolean, schema.BoolValue(false), schema.StringValue("false"), true},
		{"bool vs null", schema.ResultBoolean, schema.BoolValue(false), schema.NullValue(), false},
		{"null vs null", schema.ResultString, schema.NullValue(), schema.NullValue(), true},
		{"within epsilon", schema.ResultNumber, schema.NumberValue(0.3), schema.NumberValue(0.1 + 0.2), true},
		{"outside epsilon", schema.ResultNumber, schema.NumberValue(0.3), schema.NumberValue(0.301), false},
		{"number vs text", schema.ResultNumber, schema.NumberValue(12.5), schema.StringValue("12.5"), true},
		{"case matters", schema.ResultString, schema.StringValue("Label"), schema.StringValue("label"), false},
		{"string exact", schema.ResultString, schema.StringValue("ok"), schema.StringValue("ok"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EqualCells(tc.kind, tc.want, tc.got, eps); got != tc.equal {
				t.Errorf("EqualCells(%s, %s, %s) = %v, want %v", tc.kind, tc.want, tc.got, got, tc.equal)
			}
		})
	}
}

func scoringRulebook() *schema.Rulebook {
	return &schema.Rulebook{
		Name: "Scoring",
		Fields: []schema.Field{
			{Name: "Key", Type: schema.FieldRaw, Result: schema.ResultString},
			{Name: "Flag", Type: schema.FieldCalculated, Result: schema.ResultBoolean, Formula: `={{Key}} = "x"`},
			{Name: "Total", Type: schema.FieldCalculated, Result: schema.ResultNumber, Formula: "=1"},
			{Name: "Label", Type: schema.FieldCalculated, Result: schema.ResultString, Formula: `="l"`},
		},
	}
}

func row(key string, flag, total, label schema.Value) schema.Record {
	return schema.Record{
		"Key":   schema.StringValue(key),
		"Flag":  flag,
		"Total": total,
		"Label": label,
	}
}

func TestScoreTablePerfect(t *testing.T) {
	rb := scoringRulebook()
	want := schema.Table{
		row("a", schema.BoolValue(true), schema.NumberValue(1), schema.StringValue("l")),
		row("b", schema.BoolValue(false), schema.NumberValue(1), schema.NullValue()),
	}
	got := schema.Table{
		row("b", schema.BoolValue(false), schema.NumberValue(1), schema.NullValue()),
		row("a", schema.BoolValue(true), schema.NumberValue(1), schema.StringValue("l")),
	}

	tr := ScoreTable(rb, want, got, nil, Options{})
	if tr.Passed != 6 || tr.Total != 6 || tr.Score != 100 {
		t.Errorf("score = %.1f (%d/%d), want 100.0 (6/6)", tr.Score, tr.Passed, tr.Total)
	}
	if len(tr.Diffs) != 0 || tr.CountMismatch != nil {
		t.Errorf("clean run produced diffs %v, mismatch %v", tr.Diffs, tr.CountMismatch)
	}
}

func TestScoreTableNormalizesLooseCells(t *testing.T) {
	rb := scoringRulebook()
	want := schema.Table{row("a", schema.BoolValue(true), schema.NumberValue(2.5), schema.StringValue("A"))}
	got := schema.Table{row("a", schema.NumberValue(1), schema.StringValue("2.5"), schema.StringValue("a"))}

	tr := ScoreTable(rb, want, got, nil, Options{})
	// the loose boolean and number pass; the case-folded string is a real
	// mismatch
	if tr.Passed != 2 || tr.Total != 3 {
		t.Fatalf("passed %d/%d, want 2/3", tr.Passed, tr.Total)
	}
	if len(tr.Diffs) != 1 || tr.Diffs[0].Field != "Label" {
		t.Errorf("diffs = %v, want one Label diff", tr.Diffs)
	}
}

func TestScoreTableMissingRecordReadsNull(t *testing.T) {
	rb := scoringRulebook()
	want := schema.Table{
		row("a", schema.BoolValue(true), schema.NumberValue(1), schema.NullValue()),
		row("b", schema.NullValue(), schema.NullValue(), schema.NullValue()),
	}
	got := schema.Table{
		row("a", schema.BoolValue(true), schema.NumberValue(1), schema.NullValue()),
	}

	tr := ScoreTable(rb, want, got, nil, Options{})
	if tr.CountMismatch == nil || tr.CountMismatch.Want != 2 || tr.CountMismatch.Got != 1 {
		t.Fatalf("count mismatch = %v, want {2 1}", tr.CountMismatch)
	}
	// record b never came back, but its expected cells are all null, so its
	// cells still pass; the mismatch itself stays on the report
	if tr.Passed != 6 {
		t.Errorf("passed = %d, want 6", tr.Passed)
	}
	if tr.CountMismatch.Error() != "expected 2 records, target returned 1" {
		t.Errorf("mismatch message = %q", tr.CountMismatch.Error())
	}
}

func TestScoreTableFailureCap(t *testing.T) {
	rb := scoringRulebook()
	var want, got schema.Table
	for i := 0; i < 20; i++ {
		key := string(rune('a' + i))
		want = append(want, row(key, schema.BoolValue(true), schema.NumberValue(1), schema.StringValue("l")))
		got = append(got, row(key, schema.BoolValue(false), schema.NumberValue(2), schema.StringValue("wrong")))
	}

	tr := ScoreTable(rb, want, got, nil, Options{FailureLimit: 5})
	if tr.Passed != 0 || tr.Total != 60 {
		t.Fatalf("passed %d/%d, want 0/60", tr.Passed, tr.Total)
	}
	if len(tr.Diffs) != 5 || tr.Truncated != 55 {
		t.Errorf("kept %d diffs with %d truncated, want 5 and 55", len(tr.Diffs), tr.Truncated)
	}
}

func TestScoreTableUnsupportedFieldsExcluded(t *testing.T) {
	rb := scoringRulebook()
	want := schema.Table{row("a", schema.BoolValue(true), schema.NumberValue(1), schema.StringValue("l"))}
	got := schema.Table{row("a", schema.BoolValue(true), schema.NullValue(), schema.NullValue())}
	issues := []emit.FieldIssue{
		{Field: "Total", Reason: "target datalog cannot express arithmetic"},
		{Field: "Label", Reason: `depends on dropped field "Total"`},
	}

	tr := ScoreTable(rb, want, got, issues, Options{})
	// dropped fields count against the score but are reported as gaps, not
	// diffs
	if tr.Passed != 1 || tr.Total != 3 {
		t.Errorf("passed %d/%d, want 1/3", tr.Passed, tr.Total)
	}
	if len(tr.Diffs) != 0 {
		t.Errorf("unexpected diffs for unsupported fields: %v", tr.Diffs)
	}
	if len(tr.Unsupported) != 2 {
		t.Errorf("unsupported list = %v", tr.Unsupported)
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

func candidateRecords() schema.Table {
	return schema.Table{
		{
			"Name":                schema.StringValue("English"),
			"HasSyntax":           schema.BoolValue(true),
			"CanBeHeld":           schema.BoolValue(false),
			"IsLanguage":          schema.BoolValue(false),
			"DistanceFromConcept": schema.NumberValue(2),
		},
		{
			"Name":                schema.StringValue("Boulder"),
			"HasSyntax":           schema.BoolValue(false),
			"CanBeHeld":           schema.BoolValue(true),
			"IsLanguage":          schema.BoolValue(false),
			"DistanceFromConcept": schema.NumberValue(0),
		},
	}
}

func TestGradeFullPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("runs real target substrates")
	}
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	report, err := Grade(context.Background(), rb, g, candidateRecords(), Options{
		Targets: []string{emit.TargetGolang, emit.TargetSQLite},
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if report.Rulebook != "LanguageCandidates" || report.Records != 2 {
		t.Errorf("report header = %s/%d", report.Rulebook, report.Records)
	}
	if len(report.Targets) != 2 {
		t.Fatalf("got %d target reports", len(report.Targets))
	}
	for _, tr := range report.Targets {
		if tr.Err != "" {
			t.Errorf("%s failed: %s", tr.Target, tr.Err)
		}
		if tr.Score != 100 || tr.Passed != 8 || tr.Total != 8 {
			t.Errorf("%s = %.1f%% (%d/%d), want 100.0%% (8/8)", tr.Target, tr.Score, tr.Passed, tr.Total)
		}
		if tr.Duration <= 0 {
			t.Errorf("%s has no duration", tr.Target)
		}
	}
	if report.Targets[0].Target != emit.TargetGolang || report.Targets[1].Target != emit.TargetSQLite {
		t.Errorf("target order not preserved: %s, %s", report.Targets[0].Target, report.Targets[1].Target)
	}
}

func TestGradeUnknownTargetRecorded(t *testing.T) {
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	report, err := Grade(context.Background(), rb, g, candidateRecords(), Options{
		Targets: []string{"cobol"},
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	tr := report.Targets[0]
	if tr.Err == "" || !strings.Contains(tr.Err, "cobol") {
		t.Errorf("unknown target error = %q", tr.Err)
	}
	if tr.Score != 0 {
		t.Errorf("failed target scored %.1f", tr.Score)
	}
}

func TestGradeTimeoutRecorded(t *testing.T) {
	rb := candidateRulebook()
	g, err := graph.Build(rb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	report, err := Grade(context.Background(), rb, g, candidateRecords(), Options{
		Targets: []string{emit.TargetGolang},
		Timeout: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	tr := report.Targets[0]
	if !strings.Contains(tr.Err, "timed out") {
		t.Errorf("timeout error = %q", tr.Err)
	}
	if tr.Score != 0 {
		t.Errorf("timed-out target scored %.1f", tr.Score)
	}
}

func TestMarkdownReport(t *testing.T) {
	report := &Report{
		RunID:    "0b1e5acd-0000-0000-0000-000000000000",
		Rulebook: "LanguageCandidates",
		Records:  4,
		Targets: []TargetReport{
			{Target: "golang", Score: 100, Passed: 8, Total: 8, Duration: 1200 * time.Millisecond},
			{
				Target: "sqlite", Score: 62.5, Passed: 5, Total: 8,
				Duration:      80 * time.Millisecond,
				CountMismatch: &RecordCountMismatch{Want: 4, Got: 3},
				Diffs: []FieldDiff{
					{RecordKey: "English", Field: "HasGrammar",
						Want: schema.BoolValue(true), Got: schema.BoolValue(false)},
					{RecordKey: "Pipe|Name", Field: "PredictionFail",
						Want: schema.StringValue(strings.Repeat("x", 60)), Got: schema.NullValue()},
				},
				Truncated: 2,
			},
			{Target: "datalog", Score: 0, Total: 8, Duration: time.Millisecond,
				Err: "failed to run: engine exploded"},
		},
	}

	md := report.Markdown()
	for _, want := range []string{
		"# Conformance Report",
		"- Run: `0b1e5acd-0000-0000-0000-000000000000`",
		"| Target | Score | Passed | Duration | Error |",
		"| golang | 100.0% | 8/8 | 1.2s | - |",
		"| sqlite | 62.5% | 5/8 |",
		"All cells match the answer key.",
		"Record count mismatch: want 4, got 3.",
		"| English | HasGrammar | true | false |",
		`| Pipe\|Name | PredictionFail |`,
		"(2 more failures not shown)",
		"## datalog",
		"Failed: failed to run: engine exploded",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	// the long want value is truncated, so the raw 60-char run never appears
	if strings.Contains(md, strings.Repeat("x", 60)) {
		t.Error("markdown kept an untruncated 60-char value")
	}
	if !strings.Contains(md, strings.Repeat("x", 30)) {
		t.Error("markdown lost the truncated value prefix")
	}
}

func TestReportWrite(t *testing.T) {
	report := &Report{
		RunID:    "7d4460e5-aaaa-bbbb-cccc-000000000000",
		Rulebook: "Scoring",
		Records:  1,
		Targets:  []TargetReport{{Target: "golang", Score: 100, Passed: 3, Total: 3}},
	}
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := report.Write(dir)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "grade-7d4460e5.md" {
		t.Errorf("report path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "# Conformance Report") {
		t.Error("written report lost its header")
	}
}

func TestStyledSummary(t *testing.T) {
	report := &Report{
		RunID:    "11112222-0000-0000-0000-000000000000",
		Rulebook: "Scoring",
		Records:  2,
		Targets: []TargetReport{
			{Target: "golang", Score: 100, Passed: 6, Total: 6},
			{Target: "sqlite", Score: 50, Passed: 3, Total: 6},
			{Target: "datalog", Err: "failed to emit: boom"},
		},
	}
	out := report.StyledSummary()
	for _, want := range []string{"✓ golang", "~ sqlite", "✗ datalog", "11112222", "2 records"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const batteryRulebook = `name: LanguageCandidates
fields:
  - name: Name
    type: raw
    result: string
  - name: HasSyntax
    type: raw
    result: boolean
  - name: HasGrammar
    type: calculated
    result: boolean
    formula: "={{HasSyntax}} = TRUE()"
`

const batteryRecords = `[
  {"Name": "English", "HasSyntax": true},
  {"Name": "Boulder", "HasSyntax": false}
]`

func TestBattery(t *testing.T) {
	if testing.Short() {
		t.Skip("runs real target substrates")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "candidates.yaml"), batteryRulebook)
	writeFile(t, filepath.Join(dir, "records.json"), batteryRecords)
	writeFile(t, filepath.Join(dir, "battery.yaml"), `version: 1
tasks:
  - name: golang conformance
    rulebook: candidates.yaml
    records: records.json
    targets: [golang]
  - name: impossible bar
    rulebook: candidates.yaml
    records: records.json
    targets: [golang]
    min_scores:
      golang: 101
`)

	b, err := LoadBattery(filepath.Join(dir, "battery.yaml"))
	if err != nil {
		t.Fatalf("LoadBattery: %v", err)
	}
	if len(b.Tasks) != 2 {
		t.Fatalf("loaded %d tasks", len(b.Tasks))
	}

	results := RunBattery(context.Background(), b, Options{}, false)
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].Success {
		t.Errorf("first scenario failed: %s", results[0].Reason)
	}
	if results[0].Report == nil || results[0].Report.Targets[0].Score != 100 {
		t.Error("first scenario has no perfect report attached")
	}
	if results[1].Success {
		t.Error("impossible bar passed")
	}
	if !strings.Contains(results[1].Reason, "expected at least 101.0%") {
		t.Errorf("failure reason = %q", results[1].Reason)
	}

	// fail-fast stops after the first failure
	b.Tasks[0], b.Tasks[1] = b.Tasks[1], b.Tasks[0]
	results = RunBattery(context.Background(), b, Options{}, true)
	if len(results) != 1 || results[0].Success {
		t.Errorf("fail-fast kept going: %+v", results)
	}
}
