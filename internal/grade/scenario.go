package grade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"go.uber.org/zap"

	"rulecast/internal/graph"
	"rulecast/internal/logging"
	"rulecast/internal/schema"
)

// Battery is a YAML-defined suite of grading scenarios, run sequentially.
type Battery struct {
	Version int        `yaml:"version"`
	Tasks   []Scenario `yaml:"tasks"`

	dir string // battery file location; relative task paths resolve here
}

// Scenario grades one rulebook against one records file. A target listed
// in MinScores passes when it reaches that score; targets without an entry
// must score a full 100 and report no error.
type Scenario struct {
	Name       string             `yaml:"name"`
	Rulebook   string             `yaml:"rulebook"`
	Records    string             `yaml:"records"`
	Targets    []string           `yaml:"targets,omitempty"`
	MinScores  map[string]float64 `yaml:"min_scores,omitempty"`
	TimeoutSec int                `yaml:"timeout_sec,omitempty"`
}

// ScenarioResult captures one scenario's outcome.
type ScenarioResult struct {
	Name     string
	Success  bool
	Reason   string
	Report   *Report
	Duration time.Duration
}

// LoadBattery reads a YAML battery file from disk.
func LoadBattery(path string) (*Battery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse battery YAML: %w", err)
	}
	b.dir = filepath.Dir(path)
	return &b, nil
}

// RunBattery executes all scenarios in order. With failFast set, the first
// failing scenario stops the run; the results so far are still returned.
func RunBattery(ctx context.Context, b *Battery, opts Options, failFast bool) []ScenarioResult {
	if b == nil || len(b.Tasks) == 0 {
		return nil
	}
	results := make([]ScenarioResult, 0, len(b.Tasks))
	for _, task := range b.Tasks {
		res := runScenario(ctx, b, task, opts)
		results = append(results, res)
		logging.L(logging.CategoryGrade).Info("scenario finished",
			zap.String("scenario", res.Name),
			zap.Bool("success", res.Success),
			zap.Duration("duration", res.Duration))
		if failFast && !res.Success {
			break
		}
	}
	return results
}

func runScenario(ctx context.Context, b *Battery, task Scenario, opts Options) ScenarioResult {
	start := time.Now()
	res := ScenarioResult{Name: task.Name}
	fail := func(format string, args ...interface{}) ScenarioResult {
		res.Reason = fmt.Sprintf(format, args...)
		res.Duration = time.Since(start)
		return res
	}

	timeout := time.Duration(task.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rb, err := schema.Load(b.resolve(task.Rulebook))
	if err != nil {
		return fail("failed to load rulebook: %v", err)
	}
	records, err := schema.LoadTable(b.resolve(task.Records), rb)
	if err != nil {
		return fail("failed to load records: %v", err)
	}
	g, err := graph.Build(rb)
	if err != nil {
		return fail("failed to build graph: %v", err)
	}

	taskOpts := opts
	if len(task.Targets) > 0 {
		taskOpts.Targets = task.Targets
	}
	report, err := Grade(tctx, rb, g, records, taskOpts)
	if err != nil {
		return fail("failed to grade: %v", err)
	}
	res.Report = report

	for _, tr := range report.Targets {
		min, pinned := task.MinScores[tr.Target]
		if !pinned {
			min = 100
			if tr.Err != "" {
				return fail("target %s failed: %s", tr.Target, tr.Err)
			}
		}
		if tr.Score < min {
			return fail("target %s scored %.1f%%, expected at least %.1f%%", tr.Target, tr.Score, min)
		}
	}
	res.Success = true
	res.Duration = time.Since(start)
	return res
}

func (b *Battery) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || b.dir == "" {
		return path
	}
	return filepath.Join(b.dir, path)
}
