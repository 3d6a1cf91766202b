// Package emit turns a rulebook and its dependency graph into runnable
// programs for concrete execution substrates. Each emitter renders the same
// AST and level order into its target's idiom; a target that cannot express
// a construct drops the affected field (and its dependents) and records the
// gap on the Program rather than failing the whole artifact.
package emit

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"rulecast/internal/formula"
	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

// Emitter produces one target's artifact from a compiled rulebook.
type Emitter interface {
	Target() string
	Emit(rb *schema.Rulebook, g *graph.Graph) (*Program, error)
}

// Program is an emitted artifact plus the fields the target could not cover.
type Program struct {
	Target      string
	Filename    string
	Source      string
	Unsupported []FieldIssue
}

// Covers reports whether the program computes the named calculated field.
func (p *Program) Covers(field string) bool {
	for _, issue := range p.Unsupported {
		if issue.Field == field {
			return false
		}
	}
	return true
}

// FieldIssue records one calculated field a target dropped and why.
type FieldIssue struct {
	Field     string `json:"field"`
	Construct string `json:"construct,omitempty"`
	Reason    string `json:"reason"`
}

// UnsupportedConstructError marks a formula construct a target cannot
// represent. It is scoped to one field of one target; emitters collect it
// into Program.Unsupported instead of failing the artifact.
type UnsupportedConstructError struct {
	Target    string
	Field     string
	Construct string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("target %s cannot express %s (field %q)", e.Target, e.Construct, e.Field)
}

// ByTarget resolves a registered emitter by name.
func ByTarget(name string) (Emitter, error) {
	switch name {
	case TargetGolang:
		return NewGolang(), nil
	case TargetSQLite:
		return NewSQLite(), nil
	case TargetDatalog:
		return NewDatalog(), nil
	}
	return nil, fmt.Errorf("unknown target %q (have %s)", name, strings.Join(Targets(), ", "))
}

// Targets lists the registered emitter names in stable order.
func Targets() []string {
	return []string{TargetGolang, TargetSQLite, TargetDatalog}
}

const (
	TargetGolang  = "golang"
	TargetSQLite  = "sqlite"
	TargetDatalog = "datalog"
)

// planFields walks the calculated fields in level order and calls render for
// each. A field whose formula trips an UnsupportedConstructError is dropped;
// so is every field downstream of a dropped one, since its inputs would never
// materialize. Any other render error aborts the plan.
func planFields(rb *schema.Rulebook, g *graph.Graph, render func(field string) error) ([]string, []FieldIssue, error) {
	var kept []string
	var issues []FieldIssue
	dropped := make(map[string]bool)

	for _, name := range g.CalcOrder() {
		cascade := ""
		for _, dep := range g.Dependencies(name) {
			if dropped[dep] {
				cascade = dep
				break
			}
		}
		if cascade != "" {
			dropped[name] = true
			issues = append(issues, FieldIssue{
				Field:  name,
				Reason: fmt.Sprintf("depends on dropped field %q", cascade),
			})
			continue
		}
		err := render(name)
		if err == nil {
			kept = append(kept, name)
			continue
		}
		var uc *UnsupportedConstructError
		if !errors.As(err, &uc) {
			return nil, nil, fmt.Errorf("field %q: %w", name, err)
		}
		dropped[name] = true
		issues = append(issues, FieldIssue{
			Field:     name,
			Construct: uc.Construct,
			Reason:    uc.Error(),
		})
	}
	return kept, issues, nil
}

// fieldKinds maps every field to its declared result kind.
func fieldKinds(rb *schema.Rulebook) map[string]schema.ResultKind {
	kinds := make(map[string]schema.ResultKind, len(rb.Fields))
	for _, f := range rb.Fields {
		kinds[f.Name] = f.Result
	}
	return kinds
}

// inferKind derives the static result kind of an expression. The second
// return is false when the kind is open, which only happens for BLANK() and
// for conditionals whose branches are all open; callers pick a kind from the
// surrounding context then.
func inferKind(n formula.Node, kinds map[string]schema.ResultKind) (schema.ResultKind, bool) {
	switch e := n.(type) {
	case *formula.FieldRef:
		k, ok := kinds[e.Name]
		return k, ok
	case *formula.Const:
		switch e.Lit {
		case formula.LitBool:
			return schema.ResultBoolean, true
		case formula.LitNumber:
			return schema.ResultNumber, true
		case formula.LitString:
			return schema.ResultString, true
		}
		return "", false
	case *formula.UnaryOp:
		return schema.ResultNumber, true
	case *formula.BinaryOp:
		switch e.Op {
		case formula.OpConcat:
			return schema.ResultString, true
		case formula.OpAdd, formula.OpSub, formula.OpMul, formula.OpDiv:
			return schema.ResultNumber, true
		}
		return schema.ResultBoolean, true
	case *formula.FnCall:
		switch e.Name {
		case "AND", "OR", "NOT":
			return schema.ResultBoolean, true
		case "LEN":
			return schema.ResultNumber, true
		}
		return schema.ResultString, true
	case *formula.Conditional:
		if k, ok := inferKind(e.Then, kinds); ok {
			return k, true
		}
		return inferKind(e.Else, kinds)
	}
	return "", false
}

// kindOr resolves an open kind to a fallback.
func kindOr(n formula.Node, kinds map[string]schema.ResultKind, fallback schema.ResultKind) schema.ResultKind {
	if k, ok := inferKind(n, kinds); ok {
		return k
	}
	return fallback
}

// goIdent renders a field name as an exported Go identifier.
func goIdent(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if b.Len() == 0 {
				b.WriteString("F")
			}
			b.WriteRune(r)
			upper = false
		default:
			upper = true
		}
	}
	if b.Len() == 0 {
		return "F"
	}
	return b.String()
}

// snakeIdent renders a name as a lower_snake identifier for SQL and datalog.
func snakeIdent(name string) string {
	var b strings.Builder
	pendingSep := false
	var prev rune
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			} else if unicode.IsUpper(r) && unicode.IsLower(prev) && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
		prev = r
	}
	if b.Len() == 0 {
		return "f"
	}
	s := b.String()
	if unicode.IsDigit(rune(s[0])) {
		s = "f" + s
	}
	return s
}

// identTable assigns each field a unique identifier under the given renderer,
// suffixing collisions by declaration order.
func identTable(rb *schema.Rulebook, render func(string) string) map[string]string {
	ids := make(map[string]string, len(rb.Fields))
	used := make(map[string]bool, len(rb.Fields))
	for _, f := range rb.Fields {
		id := render(f.Name)
		if used[id] {
			for i := 2; ; i++ {
				candidate := fmt.Sprintf("%s%d", id, i)
				if !used[candidate] {
					id = candidate
					break
				}
			}
		}
		used[id] = true
		ids[f.Name] = id
	}
	return ids
}
