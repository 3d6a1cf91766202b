// Package grade scores emitted target programs against the reference
// evaluator. The evaluator's answer key is the ground truth; each target
// re-computes the table from blanked records and every (record, calculated
// field) cell either matches after normalization or becomes a diff. Target
// failures (emit errors, runtime errors, timeouts) grade as zero and are
// recorded on the target's report, never returned, so one broken substrate
// cannot hide the others' results.
package grade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rulecast/internal/emit"
	"rulecast/internal/eval"
	"rulecast/internal/graph"
	"rulecast/internal/logging"
	"rulecast/internal/run"
	"rulecast/internal/schema"

	"github.com/google/uuid"
)

// FieldDiff is one cell where a target disagreed with the answer key.
type FieldDiff struct {
	RecordKey string       `json:"record_key"`
	Field     string       `json:"field"`
	Want      schema.Value `json:"want"`
	Got       schema.Value `json:"got"`
}

// RecordCountMismatch reports a target that returned the wrong number of
// records. It is recorded on the target's report; overlapping records are
// still graded.
type RecordCountMismatch struct {
	Want int
	Got  int
}

func (e *RecordCountMismatch) Error() string {
	return fmt.Sprintf("expected %d records, target returned %d", e.Want, e.Got)
}

// Options tunes a grading run. Zero values take the defaults below.
type Options struct {
	Targets      []string      // targets to grade; nil means all registered
	FailureLimit int           // diffs kept per target (default 50)
	Epsilon      float64       // numeric comparison tolerance (default 1e-9)
	Timeout      time.Duration // per-target budget (default 60s)
}

const (
	defaultFailureLimit = 50
	defaultEpsilon      = 1e-9
	defaultTimeout      = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if len(o.Targets) == 0 {
		o.Targets = emit.Targets()
	}
	if o.FailureLimit <= 0 {
		o.FailureLimit = defaultFailureLimit
	}
	if o.Epsilon <= 0 {
		o.Epsilon = defaultEpsilon
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// TargetReport is the grade for one target.
type TargetReport struct {
	Target        string               `json:"target"`
	Score         float64              `json:"score"`
	Passed        int                  `json:"passed"`
	Total         int                  `json:"total"`
	Duration      time.Duration        `json:"duration"`
	Err           string               `json:"error,omitempty"`
	CountMismatch *RecordCountMismatch `json:"count_mismatch,omitempty"`
	Unsupported   []emit.FieldIssue    `json:"unsupported,omitempty"`
	Diffs         []FieldDiff          `json:"diffs,omitempty"`
	Truncated     int                  `json:"truncated,omitempty"` // failures beyond the kept diffs
}

// Report is the outcome of one grading run across all requested targets.
type Report struct {
	RunID    string         `json:"run_id"`
	Rulebook string         `json:"rulebook"`
	Records  int            `json:"records"`
	Targets  []TargetReport `json:"targets"`
}

// Grade computes the answer key, emits and runs every requested target
// against the blanked records, and scores the results. Targets run
// concurrently, each under its own timeout. The returned error covers only
// the shared pipeline; anything scoped to one target lands in that
// target's report.
func Grade(ctx context.Context, rb *schema.Rulebook, g *graph.Graph, records schema.Table, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	timer := logging.StartTimer(logging.CategoryGrade, "grade run")

	answered, err := eval.New(rb, g).EvalTable(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to compute answer key: %w", err)
	}
	blanked := records.Blank(rb)

	report := &Report{
		RunID:    uuid.NewString(),
		Rulebook: rb.Name,
		Records:  len(records),
		Targets:  make([]TargetReport, len(opts.Targets)),
	}

	var grp errgroup.Group
	for i, target := range opts.Targets {
		grp.Go(func() error {
			report.Targets[i] = gradeTarget(ctx, target, rb, g, answered, blanked, opts)
			return nil
		})
	}
	// branches report failures on their own TargetReport, never as errors
	_ = grp.Wait()

	timer.Stop(zap.String("run_id", report.RunID), zap.Int("targets", len(report.Targets)))
	return report, nil
}

// gradeTarget emits, runs and scores one target. Failures grade 0 with the
// reason recorded.
func gradeTarget(ctx context.Context, target string, rb *schema.Rulebook, g *graph.Graph, answered, blanked schema.Table, opts Options) TargetReport {
	start := time.Now()
	tr := TargetReport{
		Target: target,
		Total:  len(answered) * len(rb.CalculatedFields()),
	}

	fail := func(err error) TargetReport {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", opts.Timeout, err)
		}
		tr.Err = err.Error()
		tr.Duration = time.Since(start)
		logging.L(logging.CategoryGrade).Warn("target failed",
			zap.String("target", target), zap.Error(err))
		return tr
	}

	emitter, err := emit.ByTarget(target)
	if err != nil {
		return fail(err)
	}
	runner, err := run.ForTarget(target)
	if err != nil {
		return fail(err)
	}
	prog, err := emitter.Emit(rb, g)
	if err != nil {
		return fail(fmt.Errorf("failed to emit: %w", err))
	}
	tr.Unsupported = prog.Unsupported

	tctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	got, err := runner.Run(tctx, prog, rb, blanked)
	if err != nil {
		return fail(fmt.Errorf("failed to run: %w", err))
	}

	scored := ScoreTable(rb, answered, got, prog.Unsupported, opts)
	scored.Target = target
	scored.Duration = time.Since(start)
	return scored
}

// ScoreTable compares a target's output against the answer key cell by
// cell. Records match by primary key; a record the target never returned
// reads as all-null cells. Fields the target reported unsupported count as
// failed but are listed separately rather than diffed.
func ScoreTable(rb *schema.Rulebook, want, got schema.Table, unsupported []emit.FieldIssue, opts Options) TargetReport {
	opts = opts.withDefaults()
	calc := rb.CalculatedFields()
	tr := TargetReport{
		Total:       len(want) * len(calc),
		Unsupported: unsupported,
	}

	if len(got) != len(want) {
		tr.CountMismatch = &RecordCountMismatch{Want: len(want), Got: len(got)}
	}
	byKey := make(map[string]schema.Record, len(got))
	for _, rec := range got {
		key := rec.Key(rb)
		if _, dup := byKey[key]; !dup {
			byKey[key] = rec
		}
	}

	dropped := make(map[string]bool, len(unsupported))
	for _, issue := range unsupported {
		dropped[issue.Field] = true
	}

	for _, wantRec := range want {
		key := wantRec.Key(rb)
		gotRec := byKey[key] // nil reads as all nulls
		for _, f := range calc {
			if dropped[f.Name] {
				continue
			}
			w := wantRec.Get(f.Name)
			gv := gotRec.Get(f.Name)
			if EqualCells(f.Result, w, gv, opts.Epsilon) {
				tr.Passed++
				continue
			}
			if len(tr.Diffs) < opts.FailureLimit {
				tr.Diffs = append(tr.Diffs, FieldDiff{RecordKey: key, Field: f.Name, Want: w, Got: gv})
			} else {
				tr.Truncated++
			}
		}
	}

	if tr.Total > 0 {
		tr.Score = 100 * float64(tr.Passed) / float64(tr.Total)
	} else {
		tr.Score = 100
	}
	return tr
}
