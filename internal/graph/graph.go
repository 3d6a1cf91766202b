// Package graph builds the field dependency graph of a rulebook: every
// formula's references become edges, fields settle into levels (raw fields
// at level 0, a calculated field one past its deepest dependency), and
// cycles are rejected with their full membership. The graph also carries the
// parsed formula trees so later stages never re-parse.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"rulecast/internal/formula"
	"rulecast/internal/schema"
)

// CycleError reports the fields that could not be ordered because they
// depend on each other. Members is sorted.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency among fields: %s", strings.Join(e.Members, ", "))
}

// UnknownFieldError reports a formula referencing a field the rulebook does
// not define.
type UnknownFieldError struct {
	Field      string
	Referenced string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("field %q: formula references unknown field %q", e.Field, e.Referenced)
}

// Vertex is one field in the dependency graph. Order is the field's
// declaration index, used to keep within-level ordering stable.
type Vertex struct {
	Name       string
	Order      int
	Calculated bool
	DependsOn  map[string]struct{}
}

// Graph is the dependency graph of a single rulebook, with levels computed
// and formulas parsed. Build is the only constructor that produces a fully
// populated graph; the zero Graph plus AddVertex/AddDependencies is enough
// for tests and tools that bring their own ordering.
type Graph struct {
	Vertices map[string]*Vertex

	formulas map[string]formula.Node
	levelOf  map[string]int
	levels   [][]string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Vertices: make(map[string]*Vertex),
		formulas: make(map[string]formula.Node),
	}
}

// AddVertex registers a field. Duplicate names are an error.
func (g *Graph) AddVertex(name string, order int, calculated bool) error {
	if _, exists := g.Vertices[name]; exists {
		return fmt.Errorf("vertex %q already exists", name)
	}
	g.Vertices[name] = &Vertex{
		Name:       name,
		Order:      order,
		Calculated: calculated,
		DependsOn:  make(map[string]struct{}),
	}
	return nil
}

// AddDependencies wires from -> deps edges. Every endpoint must exist and
// self references are rejected.
func (g *Graph) AddDependencies(from string, deps []string) error {
	v, ok := g.Vertices[from]
	if !ok {
		return fmt.Errorf("vertex %q does not exist", from)
	}
	for _, dep := range deps {
		if dep == from {
			return fmt.Errorf("vertex %q cannot depend on itself", from)
		}
		if _, ok := g.Vertices[dep]; !ok {
			return fmt.Errorf("vertex %q depends on unknown vertex %q", from, dep)
		}
		v.DependsOn[dep] = struct{}{}
	}
	return nil
}

// Build parses every calculated field's formula, wires the dependency graph
// and computes levels. Errors: *formula.SyntaxError (wrapped with the field
// name), *UnknownFieldError, *CycleError.
func Build(rb *schema.Rulebook) (*Graph, error) {
	g := NewGraph()
	for i, f := range rb.Fields {
		if err := g.AddVertex(f.Name, i, f.Type == schema.FieldCalculated); err != nil {
			return nil, err
		}
	}

	for _, f := range rb.CalculatedFields() {
		tree, err := formula.Parse(f.Formula)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		g.formulas[f.Name] = tree

		refs := formula.Fields(tree)
		for _, ref := range refs {
			if ref == f.Name {
				return nil, &CycleError{Members: []string{f.Name}}
			}
			if _, ok := rb.Field(ref); !ok {
				return nil, &UnknownFieldError{Field: f.Name, Referenced: ref}
			}
		}
		if err := g.AddDependencies(f.Name, refs); err != nil {
			return nil, err
		}
	}

	if err := g.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

// computeLevels peels fields whose dependencies are all assigned: raw fields
// seed level 0, each pass of calculated fields forms the next level. Fields
// left over after a pass with no progress are exactly the cycle members.
func (g *Graph) computeLevels() error {
	g.levelOf = make(map[string]int, len(g.Vertices))
	g.levels = nil

	var raw []*Vertex
	remaining := make(map[string]*Vertex)
	for _, v := range g.Vertices {
		if v.Calculated {
			remaining[v.Name] = v
		} else {
			raw = append(raw, v)
			g.levelOf[v.Name] = 0
		}
	}
	g.levels = append(g.levels, sortByOrder(raw))

	for len(remaining) > 0 {
		var level []*Vertex
		for _, v := range remaining {
			ready := true
			for dep := range v.DependsOn {
				if _, assigned := g.levelOf[dep]; !assigned {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, v)
			}
		}
		if len(level) == 0 {
			members := make([]string, 0, len(remaining))
			for name := range remaining {
				members = append(members, name)
			}
			sort.Strings(members)
			return &CycleError{Members: members}
		}
		n := len(g.levels)
		for _, v := range level {
			g.levelOf[v.Name] = n
			delete(remaining, v.Name)
		}
		g.levels = append(g.levels, sortByOrder(level))
	}
	return nil
}

func sortByOrder(vs []*Vertex) []string {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Order < vs[j].Order })
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}

// Level returns a field's level: 0 for raw fields, 1+ for calculated ones.
// Unknown fields return -1.
func (g *Graph) Level(name string) int {
	l, ok := g.levelOf[name]
	if !ok {
		return -1
	}
	return l
}

// Levels groups field names by level, declaration order within a level.
// Level 0 is the raw fields; every later level is calculated.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// CalcOrder returns calculated field names in evaluation order: by level,
// declaration order within a level.
func (g *Graph) CalcOrder() []string {
	var out []string
	for i, level := range g.levels {
		if i == 0 {
			continue
		}
		out = append(out, level...)
	}
	return out
}

// Formula returns the parsed tree of a calculated field.
func (g *Graph) Formula(name string) (formula.Node, bool) {
	n, ok := g.formulas[name]
	return n, ok
}

// Dependencies returns the sorted direct dependencies of a field.
func (g *Graph) Dependencies(name string) []string {
	v, ok := g.Vertices[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v.DependsOn))
	for dep := range v.DependsOn {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}
