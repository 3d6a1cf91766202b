// Package formula lexes and parses the spreadsheet-style formula dialect used
// by rulebook calculated fields: {{Field}} references, quoted strings, number
// literals, the operators = <> < > <= >= & + - * /, and a fixed function
// vocabulary (TRUE, FALSE, BLANK, NOT, AND, OR, IF, CONCAT, LOWER, UPPER,
// TRIM, LEN). Parsing is pure: no evaluation, no schema knowledge.
package formula

import (
	"sort"
	"strconv"
	"strings"
)

// NodeKind identifies the concrete variant behind a Node.
type NodeKind int

const (
	KindFieldRef NodeKind = iota
	KindConst
	KindUnaryOp
	KindBinaryOp
	KindFnCall
	KindConditional
)

// Node is one vertex of a parsed formula tree. The implementation set is
// closed; the unexported marker keeps it that way.
type Node interface {
	Kind() NodeKind
	// String renders the canonical spelling of the subtree. Parsing the
	// rendering yields an equal tree.
	String() string
	exprNode()
}

// LitKind classifies a Const literal.
type LitKind int

const (
	LitBool LitKind = iota
	LitNumber
	LitString
	LitNull
)

// Op names an operator. Unary negation reuses the "-" spelling; the node
// type disambiguates.
type Op string

const (
	OpEq     Op = "="
	OpNe     Op = "<>"
	OpLt     Op = "<"
	OpGt     Op = ">"
	OpLe     Op = "<="
	OpGe     Op = ">="
	OpConcat Op = "&"
	OpAdd    Op = "+"
	OpSub    Op = "-"
	OpMul    Op = "*"
	OpDiv    Op = "/"
	OpNeg    Op = "-"
)

// FieldRef reads another field of the same record.
type FieldRef struct {
	Name string
}

// Const is a literal. Which of Bool/Num/Str carries a value depends on Lit;
// a LitNull carries none. TRUE(), FALSE() and BLANK() parse to Consts.
type Const struct {
	Lit  LitKind
	Bool bool
	Num  float64
	Str  string
}

// UnaryOp is prefix negation of a numeric operand.
type UnaryOp struct {
	Op      Op
	Operand Node
}

// BinaryOp covers comparisons, concatenation and arithmetic.
type BinaryOp struct {
	Op    Op
	Left  Node
	Right Node
}

// FnCall is a call to one of the named functions. Names are canonicalized to
// upper case at parse time; CONCATENATE is canonicalized to CONCAT.
type FnCall struct {
	Name string
	Args []Node
}

// Conditional is IF(Cond, Then, Else). A two-argument IF parses with Else
// set to a null Const.
type Conditional struct {
	Cond Node
	Then Node
	Else Node
}

func (*FieldRef) Kind() NodeKind    { return KindFieldRef }
func (*Const) Kind() NodeKind       { return KindConst }
func (*UnaryOp) Kind() NodeKind     { return KindUnaryOp }
func (*BinaryOp) Kind() NodeKind    { return KindBinaryOp }
func (*FnCall) Kind() NodeKind      { return KindFnCall }
func (*Conditional) Kind() NodeKind { return KindConditional }

func (*FieldRef) exprNode()    {}
func (*Const) exprNode()       {}
func (*UnaryOp) exprNode()     {}
func (*BinaryOp) exprNode()    {}
func (*FnCall) exprNode()      {}
func (*Conditional) exprNode() {}

func (n *FieldRef) String() string { return "{{" + n.Name + "}}" }

func (n *Const) String() string {
	switch n.Lit {
	case LitBool:
		if n.Bool {
			return "TRUE()"
		}
		return "FALSE()"
	case LitNumber:
		return strconv.FormatFloat(n.Num, 'f', -1, 64)
	case LitString:
		return quoteString(n.Str)
	default:
		return "BLANK()"
	}
}

func (n *UnaryOp) String() string {
	return "(" + string(n.Op) + n.Operand.String() + ")"
}

func (n *BinaryOp) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

func (n *FnCall) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return n.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (n *Conditional) String() string {
	return "IF(" + n.Cond.String() + ", " + n.Then.String() + ", " + n.Else.String() + ")"
}

// quoteString renders s double-quoted using only the escapes the lexer
// understands, so canonical renderings re-parse losslessly.
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// Fields returns the sorted, de-duplicated names of every field the tree
// references.
func Fields(n Node) []string {
	seen := map[string]bool{}
	collectFields(n, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectFields(n Node, seen map[string]bool) {
	switch v := n.(type) {
	case *FieldRef:
		seen[v.Name] = true
	case *UnaryOp:
		collectFields(v.Operand, seen)
	case *BinaryOp:
		collectFields(v.Left, seen)
		collectFields(v.Right, seen)
	case *FnCall:
		for _, a := range v.Args {
			collectFields(a, seen)
		}
	case *Conditional:
		collectFields(v.Cond, seen)
		collectFields(v.Then, seen)
		collectFields(v.Else, seen)
	}
}
