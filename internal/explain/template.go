// Package explain turns compiled formulas into explanation artifacts: a
// content-addressed template graph per calculated field, record-bound
// instances carrying the value of every node, and an ASCII tree rendering
// for terminal inspection. Instances self-validate against the reference
// evaluator, so a bundle that ships without a validation error is known to
// agree with the answer key it explains.
package explain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"rulecast/internal/formula"
)

// NodeKind classifies a template node.
type NodeKind string

const (
	NodeConst    NodeKind = "const"
	NodeFieldRef NodeKind = "field_ref"
	NodeFn       NodeKind = "fn"
	NodeOp       NodeKind = "op"
	NodeResult   NodeKind = "result"
)

// Node is one vertex of a template graph. Children holds child ids in
// argument order and may repeat an id when a subtree is shared.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Label    string   `json:"label"`
	Children []string `json:"children,omitempty"`
}

// Edge is a parent-to-child link, de-duplicated for shared subtrees.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Semantics pins the evaluation profile a template was built under, so a
// consumer can tell which dialect the explanation describes.
type Semantics struct {
	Profile         string `json:"profile"`
	NullHandling    string `json:"null_handling"`
	BooleanCoercion string `json:"boolean_coercion"`
}

// DefaultSemantics describes the dialect the evaluator implements.
func DefaultSemantics() Semantics {
	return Semantics{
		Profile:         "excel",
		NullHandling:    "three_valued_logic",
		BooleanCoercion: "strict",
	}
}

// Template is the record-independent explanation graph for one calculated
// field. Node ids are content-addressed, so structurally identical subtrees
// collapse to a single node and two templates for the same formula carry
// the same Hash regardless of which field they explain.
type Template struct {
	Field     string    `json:"field"`
	Formula   string    `json:"formula"`
	Hash      string    `json:"template_hash"`
	Semantics Semantics `json:"semantics"`
	RootID    string    `json:"root"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`

	astByID map[string]formula.Node
}

// NewTemplate builds the explanation graph for one calculated field from
// its parsed formula. The root of the graph is a synthetic result node
// whose single child is the formula expression; its value is the stored
// cell, after result canonicalization.
func NewTemplate(field string, tree formula.Node) *Template {
	t := &Template{
		Field:     field,
		Formula:   "=" + tree.String(),
		Semantics: DefaultSemantics(),
		astByID:   make(map[string]formula.Node),
	}
	nodes := make(map[string]Node)
	edges := make(map[Edge]struct{})
	exprID := t.addNode(nodes, edges, tree)
	t.RootID = t.addSynthetic(nodes, edges, NodeResult, "result", exprID)

	for _, n := range nodes {
		t.Nodes = append(t.Nodes, n)
	}
	sort.Slice(t.Nodes, func(i, j int) bool { return t.Nodes[i].ID < t.Nodes[j].ID })
	for e := range edges {
		t.Edges = append(t.Edges, e)
	}
	sort.Slice(t.Edges, func(i, j int) bool {
		if t.Edges[i].From != t.Edges[j].From {
			return t.Edges[i].From < t.Edges[j].From
		}
		return t.Edges[i].To < t.Edges[j].To
	})
	t.Hash = hashTemplate(t.Formula, t.Nodes, t.Edges)
	return t
}

// addNode interns the subtree rooted at n and returns its id. Identical
// subtrees hash to the same id and are stored once.
func (t *Template) addNode(nodes map[string]Node, edges map[Edge]struct{}, n formula.Node) string {
	var kind NodeKind
	var label string
	var childIDs []string

	switch node := n.(type) {
	case *formula.FieldRef:
		kind, label = NodeFieldRef, node.Name
	case *formula.Const:
		kind, label = NodeConst, node.String()
	case *formula.UnaryOp:
		kind, label = NodeOp, string(node.Op)
		childIDs = []string{t.addNode(nodes, edges, node.Operand)}
	case *formula.BinaryOp:
		kind, label = NodeOp, string(node.Op)
		childIDs = []string{
			t.addNode(nodes, edges, node.Left),
			t.addNode(nodes, edges, node.Right),
		}
	case *formula.FnCall:
		kind, label = NodeFn, node.Name
		for _, arg := range node.Args {
			childIDs = append(childIDs, t.addNode(nodes, edges, arg))
		}
	case *formula.Conditional:
		kind, label = NodeFn, "IF"
		childIDs = []string{
			t.addNode(nodes, edges, node.Cond),
			t.addNode(nodes, edges, node.Then),
			t.addNode(nodes, edges, node.Else),
		}
	default:
		panic(fmt.Sprintf("explain: unhandled node %T", n))
	}

	id := nodeID(kind, label, childIDs)
	if _, seen := nodes[id]; !seen {
		nodes[id] = Node{ID: id, Kind: kind, Label: label, Children: childIDs}
		t.astByID[id] = n
	}
	for _, c := range childIDs {
		edges[Edge{From: id, To: c}] = struct{}{}
	}
	return id
}

func (t *Template) addSynthetic(nodes map[string]Node, edges map[Edge]struct{}, kind NodeKind, label, childID string) string {
	id := nodeID(kind, label, []string{childID})
	nodes[id] = Node{ID: id, Kind: kind, Label: label, Children: []string{childID}}
	edges[Edge{From: id, To: childID}] = struct{}{}
	return id
}

func (t *Template) node(id string) (Node, bool) {
	i := sort.Search(len(t.Nodes), func(i int) bool { return t.Nodes[i].ID >= id })
	if i < len(t.Nodes) && t.Nodes[i].ID == id {
		return t.Nodes[i], true
	}
	return Node{}, false
}

// nodeID derives the content address of a node from its kind, label and
// ordered child ids.
func nodeID(kind NodeKind, label string, children []string) string {
	sum := sha256.Sum256([]byte(string(kind) + "|" + label + "|" + strings.Join(children, ",")))
	return "n_" + hex.EncodeToString(sum[:])[:12]
}

// hashTemplate derives the template hash from the canonical JSON form of
// the formula plus the sorted node and edge lists.
func hashTemplate(formulaText string, nodes []Node, edges []Edge) string {
	canonical, err := json.Marshal(struct {
		Formula string `json:"formula"`
		Nodes   []Node `json:"nodes"`
		Edges   []Edge `json:"edges"`
	}{formulaText, nodes, edges})
	if err != nil {
		// Structs of strings and slices never fail to marshal.
		panic(err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}
