package explain

import (
	"fmt"

	"rulecast/internal/eval"
	"rulecast/internal/schema"
)

// Instance binds a template to one record: every node id maps to the value
// that node took while computing the field for that record. The result
// node carries the stored cell value, after result canonicalization.
type Instance struct {
	Field     string                  `json:"field"`
	RecordKey string                  `json:"record_key"`
	Template  string                  `json:"template_hash"`
	Values    map[string]schema.Value `json:"values"`
}

// ValidationError reports an instance whose result value disagrees with
// the cell the evaluator stored for the same record and field.
type ValidationError struct {
	Field     string       `json:"field"`
	RecordKey string       `json:"record_key"`
	Want      schema.Value `json:"want"`
	Got       schema.Value `json:"got"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("explanation for field %q record %q computed %s, evaluator stored %s",
		e.Field, e.RecordKey, e.Got, e.Want)
}

// Bind evaluates every template node against a fully resolved record and
// returns the instance. Nodes are bound bottom-up; a node that cannot be
// evaluated in isolation, such as the untaken branch of an IF whose lazy
// evaluation skipped a type error, binds null rather than failing the
// whole explanation.
func (t *Template) Bind(ev *eval.Evaluator, rec schema.Record, key string, resultKind schema.ResultKind) *Instance {
	inst := &Instance{
		Field:     t.Field,
		RecordKey: key,
		Template:  t.Hash,
		Values:    make(map[string]schema.Value, len(t.Nodes)),
	}
	for id, tree := range t.astByID {
		v, err := ev.EvalExpr(rec, tree)
		if err != nil {
			v = schema.NullValue()
		}
		inst.Values[id] = v
	}
	root, _ := t.node(t.RootID)
	inst.Values[t.RootID] = eval.StoredValue(resultKind, inst.Values[root.Children[0]])
	return inst
}

// Validate compares the instance's result value against the cell stored in
// the record and returns a ValidationError on disagreement, nil otherwise.
func (t *Template) Validate(inst *Instance, rec schema.Record) *ValidationError {
	want := rec.Get(t.Field)
	got := inst.Values[t.RootID]
	if want.Equal(got) {
		return nil
	}
	return &ValidationError{Field: t.Field, RecordKey: inst.RecordKey, Want: want, Got: got}
}
