package emit

import (
	"fmt"
	"strconv"
	"strings"

	"rulecast/internal/formula"
	"rulecast/internal/graph"
	"rulecast/internal/schema"
)

// datalogEmitter renders a rulebook as a Mangle program. Cells are encoded
// value-level: raw_<field>(Rec, V) facts are supplied by the runner,
// calc_<field>(Rec, V) facts are derived, and a cell with no derived fact is
// null. Booleans are the name constants /true and /false; numbers and
// strings travel as their canonical text.
//
// Coverage is partial. Field references, constants, = and <>, AND, OR, NOT
// and IF all encode; equality-false needs a stratified helper predicate plus
// negation. Concatenation, arithmetic, ordering comparisons and the string
// functions have no value-level encoding and drop their field.
type datalogEmitter struct{}

// NewDatalog returns the declarative emitter.
func NewDatalog() Emitter { return datalogEmitter{} }

func (datalogEmitter) Target() string { return TargetDatalog }

func (datalogEmitter) Emit(rb *schema.Rulebook, g *graph.Graph) (*Program, error) {
	d := &dlProgram{
		ids:   identTable(rb, snakeIdent),
		kinds: fieldKinds(rb),
		types: make(map[string]schema.FieldType, len(rb.Fields)),
	}
	for _, f := range rb.Fields {
		d.types[f.Name] = f.Type
	}

	kept, issues, err := planFields(rb, g, func(name string) error {
		tree, _ := g.Formula(name)
		return d.field(name, tree)
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Derivation rules for rulebook %q.\n", rb.Name)
	b.WriteString("# A cell with no derived fact is null. Booleans are /true and /false;\n")
	b.WriteString("# other values travel as canonical text. record(Rec) and the raw_*\n")
	b.WriteString("# facts are asserted by the runner.\n\n")

	b.WriteString("Decl record(Rec).\n")
	for _, f := range rb.RawFields() {
		fmt.Fprintf(&b, "Decl raw_%s(Rec, V).\n", d.ids[f.Name])
	}
	for _, name := range kept {
		fmt.Fprintf(&b, "Decl calc_%s(Rec, V).\n", d.ids[name])
	}

	for _, block := range d.blocks {
		b.WriteString("\n")
		b.WriteString(block)
	}

	return &Program{
		Target:      TargetDatalog,
		Filename:    snakeIdent(rb.Name) + ".mg",
		Source:      b.String(),
		Unsupported: issues,
	}, nil
}

// dlValue is an encoded expression: a folded constant, an always-null, or a
// predicate deriving (Rec, V) pairs.
type dlValue struct {
	constant string
	null     bool
	pred     string
}

func (v dlValue) atom(arg string) string {
	return v.pred + "(Rec, " + arg + ")"
}

// presence is a body atom true when the value is non-null for Rec.
func (v dlValue) presence(freshVar string) string {
	if v.pred == "" {
		return "record(Rec)"
	}
	return v.atom(freshVar)
}

type dlProgram struct {
	ids   map[string]string
	kinds map[string]schema.ResultKind
	types map[string]schema.FieldType

	blocks []string // one rendered rule block per kept field
	current string  // field currently rendering
	scope  string   // its identifier, prefixed onto helper predicates
	aux    int
}

func (d *dlProgram) field(name string, root formula.Node) error {
	d.current = name
	d.scope = d.ids[name]
	d.aux = 0

	var rules []string
	v, err := d.value(root, &rules)
	if err != nil {
		return err
	}
	head := "calc_" + d.scope
	switch {
	case v.null:
		rules = append(rules, "# "+head+" has no rules; the field is null for every record.")
	case v.constant != "":
		rules = append(rules, fmt.Sprintf("%s(Rec, %s) :- record(Rec).", head, v.constant))
	default:
		rules = append(rules, fmt.Sprintf("%s(Rec, V) :- %s.", head, v.atom("V")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s := %s\n", name, root.String())
	b.WriteString(strings.Join(rules, "\n"))
	b.WriteString("\n")
	d.blocks = append(d.blocks, b.String())
	return nil
}

func (d *dlProgram) value(n formula.Node, rules *[]string) (dlValue, error) {
	switch e := n.(type) {
	case *formula.FieldRef:
		prefix := "raw_"
		if d.types[e.Name] == schema.FieldCalculated {
			prefix = "calc_"
		}
		return dlValue{pred: prefix + d.ids[e.Name]}, nil

	case *formula.Const:
		switch e.Lit {
		case formula.LitBool:
			if e.Bool {
				return dlValue{constant: "/true"}, nil
			}
			return dlValue{constant: "/false"}, nil
		case formula.LitNumber:
			return dlValue{constant: strconv.Quote(strconv.FormatFloat(e.Num, 'f', -1, 64))}, nil
		case formula.LitString:
			return dlValue{constant: strconv.Quote(e.Str)}, nil
		}
		return dlValue{null: true}, nil

	case *formula.UnaryOp:
		return dlValue{}, d.unsupported("unary minus")

	case *formula.BinaryOp:
		switch e.Op {
		case formula.OpEq:
			return d.equality(e.Left, e.Right, false, rules)
		case formula.OpNe:
			return d.equality(e.Left, e.Right, true, rules)
		}
		return dlValue{}, d.unsupported("operator " + string(e.Op))

	case *formula.FnCall:
		switch e.Name {
		case "AND", "OR":
			return d.junction(e, rules)
		case "NOT":
			return d.negation(e.Args[0], rules)
		}
		return dlValue{}, d.unsupported(e.Name + " function")

	case *formula.Conditional:
		return d.conditional(e, rules)
	}
	return dlValue{}, fmt.Errorf("unhandled node %T", n)
}

func (d *dlProgram) equality(left, right formula.Node, negate bool, rules *[]string) (dlValue, error) {
	lv, err := d.value(left, rules)
	if err != nil {
		return dlValue{}, err
	}
	rv, err := d.value(right, rules)
	if err != nil {
		return dlValue{}, err
	}
	if lv.null || rv.null {
		return dlValue{null: true}, nil
	}

	trueC, falseC := "/true", "/false"
	if negate {
		trueC, falseC = falseC, trueC
	}

	lk, lok := inferKind(left, d.kinds)
	rk, rok := inferKind(right, d.kinds)
	if lok && rok && lk != rk {
		// never equal across kinds; null still wins when either side is absent
		px := d.newAux()
		*rules = append(*rules, fmt.Sprintf("%s(Rec, %s) :- %s, %s.",
			px, falseC, lv.presence("W1"), rv.presence("W2")))
		return dlValue{pred: px}, nil
	}

	if lv.constant != "" && rv.constant != "" {
		c := falseC
		if lv.constant == rv.constant {
			c = trueC
		}
		return dlValue{constant: c}, nil
	}

	px := d.newAux()
	pt := px + "_t"
	if lv.constant != "" || rv.constant != "" {
		cv, pv := lv, rv
		if rv.constant != "" {
			cv, pv = rv, lv
		}
		*rules = append(*rules,
			fmt.Sprintf("%s(Rec) :- %s.", pt, pv.atom(cv.constant)),
			fmt.Sprintf("%s(Rec, %s) :- %s(Rec).", px, trueC, pt),
			fmt.Sprintf("%s(Rec, %s) :- %s, !%s(Rec).", px, falseC, pv.atom("W1"), pt),
		)
	} else {
		*rules = append(*rules,
			fmt.Sprintf("%s(Rec) :- %s, %s.", pt, lv.atom("V"), rv.atom("V")),
			fmt.Sprintf("%s(Rec, %s) :- %s(Rec).", px, trueC, pt),
			fmt.Sprintf("%s(Rec, %s) :- %s, %s, !%s(Rec).", px, falseC, lv.atom("W1"), rv.atom("W2"), pt),
		)
	}
	return dlValue{pred: px}, nil
}

func (d *dlProgram) negation(arg formula.Node, rules *[]string) (dlValue, error) {
	if err := d.wantKind(arg, schema.ResultBoolean, "NOT"); err != nil {
		return dlValue{}, err
	}
	v, err := d.value(arg, rules)
	if err != nil {
		return dlValue{}, err
	}
	switch {
	case v.null:
		return dlValue{null: true}, nil
	case v.constant == "/true":
		return dlValue{constant: "/false"}, nil
	case v.constant == "/false":
		return dlValue{constant: "/true"}, nil
	}
	px := d.newAux()
	*rules = append(*rules,
		fmt.Sprintf("%s(Rec, /true) :- %s.", px, v.atom("/false")),
		fmt.Sprintf("%s(Rec, /false) :- %s.", px, v.atom("/true")),
	)
	return dlValue{pred: px}, nil
}

func (d *dlProgram) junction(e *formula.FnCall, rules *[]string) (dlValue, error) {
	dominant, identity := "/false", "/true"
	if e.Name == "OR" {
		dominant, identity = "/true", "/false"
	}

	var preds []dlValue
	sawNull := false
	folded := false
	for _, arg := range e.Args {
		if err := d.wantKind(arg, schema.ResultBoolean, e.Name); err != nil {
			return dlValue{}, err
		}
		v, err := d.value(arg, rules)
		if err != nil {
			return dlValue{}, err
		}
		switch {
		case v.null:
			sawNull = true
		case v.constant == dominant:
			folded = true
		case v.constant == identity:
		default:
			preds = append(preds, v)
		}
	}
	if folded {
		return dlValue{constant: dominant}, nil
	}
	if len(preds) == 0 {
		if sawNull {
			return dlValue{null: true}, nil
		}
		return dlValue{constant: identity}, nil
	}

	px := d.newAux()
	for _, p := range preds {
		*rules = append(*rules, fmt.Sprintf("%s(Rec, %s) :- %s.", px, dominant, p.atom(dominant)))
	}
	if !sawNull {
		body := make([]string, len(preds))
		for i, p := range preds {
			body[i] = p.atom(identity)
		}
		*rules = append(*rules, fmt.Sprintf("%s(Rec, %s) :- %s.", px, identity, strings.Join(body, ", ")))
	}
	return dlValue{pred: px}, nil
}

func (d *dlProgram) conditional(e *formula.Conditional, rules *[]string) (dlValue, error) {
	if err := d.wantKind(e.Cond, schema.ResultBoolean, "IF"); err != nil {
		return dlValue{}, err
	}
	cv, err := d.value(e.Cond, rules)
	if err != nil {
		return dlValue{}, err
	}
	tv, err := d.value(e.Then, rules)
	if err != nil {
		return dlValue{}, err
	}
	ev, err := d.value(e.Else, rules)
	if err != nil {
		return dlValue{}, err
	}
	switch {
	case cv.null:
		return dlValue{null: true}, nil
	case cv.constant == "/true":
		return tv, nil
	case cv.constant == "/false":
		return ev, nil
	}
	if tv.null && ev.null {
		return dlValue{null: true}, nil
	}

	px := d.newAux()
	arm := func(cond string, branch dlValue) {
		if branch.null {
			return
		}
		if branch.constant != "" {
			*rules = append(*rules, fmt.Sprintf("%s(Rec, %s) :- %s.", px, branch.constant, cv.atom(cond)))
			return
		}
		*rules = append(*rules, fmt.Sprintf("%s(Rec, V) :- %s, %s.", px, cv.atom(cond), branch.atom("V")))
	}
	arm("/true", tv)
	arm("/false", ev)
	return dlValue{pred: px}, nil
}

func (d *dlProgram) newAux() string {
	d.aux++
	return fmt.Sprintf("%s_e%d", d.scope, d.aux)
}

func (d *dlProgram) wantKind(n formula.Node, want schema.ResultKind, ctx string) error {
	if got, ok := inferKind(n, d.kinds); ok && got != want {
		return fmt.Errorf("%s operand is %s, want %s", ctx, got, want)
	}
	return nil
}

func (d *dlProgram) unsupported(construct string) error {
	return &UnsupportedConstructError{Target: TargetDatalog, Field: d.current, Construct: construct}
}

// DatalogPredicates maps every field to the predicate carrying its cells,
// matching the names the emitter writes: raw_* for raw fields, calc_* for
// calculated ones.
func DatalogPredicates(rb *schema.Rulebook) map[string]string {
	ids := identTable(rb, snakeIdent)
	out := make(map[string]string, len(rb.Fields))
	for _, f := range rb.Fields {
		prefix := "raw_"
		if f.Type == schema.FieldCalculated {
			prefix = "calc_"
		}
		out[f.Name] = prefix + ids[f.Name]
	}
	return out
}

// DatalogConstant renders a cell as the constant the encoding uses: booleans
// become the name constants /true and /false (isName), numbers and strings
// their canonical text. Null cells return ok=false; they have no fact at all.
func DatalogConstant(v schema.Value) (text string, isName, ok bool) {
	switch v.Kind {
	case schema.KindBool:
		if v.Bool {
			return "/true", true, true
		}
		return "/false", true, true
	case schema.KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), false, true
	case schema.KindString:
		return v.Str, false, true
	}
	return "", false, false
}

// DatalogDecode maps a derived fact's constant text back to a cell of the
// field's declared kind.
func DatalogDecode(text string, kind schema.ResultKind) (schema.Value, error) {
	switch kind {
	case schema.ResultBoolean:
		switch text {
		case "/true":
			return schema.BoolValue(true), nil
		case "/false":
			return schema.BoolValue(false), nil
		}
		return schema.Value{}, fmt.Errorf("boolean fact %q is neither /true nor /false", text)
	case schema.ResultNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return schema.Value{}, fmt.Errorf("number fact %q: %w", text, err)
		}
		return schema.NumberValue(f), nil
	}
	return schema.StringValue(text), nil
}
