package explain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rulecast/internal/eval"
	"rulecast/internal/graph"
	"rulecast/internal/logging"
	"rulecast/internal/schema"
)

// Bundle is the complete explanation artifact for one evaluated table: one
// template per calculated field plus one instance per record and field.
// ValidationError holds the first disagreement between an instance and the
// answer key, nil when every instance checked out.
type Bundle struct {
	RunID           string           `json:"run_id"`
	Rulebook        string           `json:"rulebook"`
	Templates       []*Template      `json:"templates"`
	Instances       []*Instance      `json:"instances"`
	ValidationError *ValidationError `json:"validation_error,omitempty"`
}

// Build explains every calculated field of every record in an answered
// table. The table must already carry the evaluator's answer key; raw-only
// tables produce instances full of nulls that fail validation. Validation
// failures are recorded, never fatal, so a drifting explanation still
// ships alongside the evidence against it.
func Build(rb *schema.Rulebook, g *graph.Graph, answered schema.Table) (*Bundle, error) {
	timer := logging.StartTimer(logging.CategoryExplain, "build bundle")
	b := &Bundle{
		RunID:    uuid.NewString(),
		Rulebook: rb.Name,
	}
	ev := eval.New(rb, g)

	kinds := make(map[string]schema.ResultKind)
	for _, f := range rb.CalculatedFields() {
		tree, ok := g.Formula(f.Name)
		if !ok {
			return nil, fmt.Errorf("no formula for field %q", f.Name)
		}
		b.Templates = append(b.Templates, NewTemplate(f.Name, tree))
		kinds[f.Name] = f.Result
	}

	for _, rec := range answered {
		key := rec.Key(rb)
		for _, t := range b.Templates {
			inst := t.Bind(ev, rec, key, kinds[t.Field])
			b.Instances = append(b.Instances, inst)
			if verr := t.Validate(inst, rec); verr != nil && b.ValidationError == nil {
				logging.L(logging.CategoryExplain).Warn("instance failed self-validation",
					zap.String("field", verr.Field),
					zap.String("record", verr.RecordKey),
					zap.String("want", verr.Want.String()),
					zap.String("got", verr.Got.String()))
				b.ValidationError = verr
			}
		}
	}
	timer.Stop(
		zap.String("run_id", b.RunID),
		zap.Int("templates", len(b.Templates)),
		zap.Int("instances", len(b.Instances)))
	return b, nil
}

// Template returns the template explaining the named field, nil if the
// field has none.
func (b *Bundle) Template(field string) *Template {
	for _, t := range b.Templates {
		if t.Field == field {
			return t
		}
	}
	return nil
}

// Instance returns the instance for one record and field, nil if absent.
func (b *Bundle) Instance(field, recordKey string) *Instance {
	for _, inst := range b.Instances {
		if inst.Field == field && inst.RecordKey == recordKey {
			return inst
		}
	}
	return nil
}

// Write stores the bundle as indented JSON, creating parent directories as
// needed.
func (b *Bundle) Write(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create bundle directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}
