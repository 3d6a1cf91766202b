package formula

import (
	"strconv"
	"strings"
)

// Binding powers, loosest to tightest. Comparisons associate left, so a
// chained a = b = c parses as (a = b) = c.
const (
	bpCompare = 10
	bpConcat  = 20
	bpAdd     = 30
	bpMul     = 40
)

type arity struct {
	min int
	max int // -1 = variadic
}

var functions = map[string]arity{
	"TRUE":   {0, 0},
	"FALSE":  {0, 0},
	"BLANK":  {0, 0},
	"NOT":    {1, 1},
	"AND":    {1, -1},
	"OR":     {1, -1},
	"IF":     {2, 3},
	"CONCAT": {1, -1},
	"LOWER":  {1, 1},
	"UPPER":  {1, 1},
	"TRIM":   {1, 1},
	"LEN":    {1, 1},
}

type parser struct {
	lex *lexer
	cur Token
}

// Parse parses a complete formula and returns its tree. A single leading '='
// marker, the conventional spelling in rulebook documents, is skipped.
// Trailing input after the expression is an error. Errors are *SyntaxError
// with a byte offset into src.
func Parse(src string) (Node, error) {
	start := 0
	if strings.HasPrefix(src, "=") {
		start = 1
	}
	p := &parser{lex: &lexer{src: src, pos: start}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.Kind == TokenEOF {
		return nil, syntaxErrorf(p.cur.Pos, "empty formula")
	}
	n, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != TokenEOF {
		return nil, syntaxErrorf(p.cur.Pos, "unexpected %s after expression", p.cur.Kind)
	}
	return n, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) parseExpr(minBP int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, bp, ok := binaryOp(p.cur.Kind)
		if !ok || bp < minBP {
			return left, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpr(bp + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right}
	}
}

func binaryOp(k TokenKind) (Op, int, bool) {
	switch k {
	case TokenEq:
		return OpEq, bpCompare, true
	case TokenNe:
		return OpNe, bpCompare, true
	case TokenLt:
		return OpLt, bpCompare, true
	case TokenGt:
		return OpGt, bpCompare, true
	case TokenLe:
		return OpLe, bpCompare, true
	case TokenGe:
		return OpGe, bpCompare, true
	case TokenAmp:
		return OpConcat, bpConcat, true
	case TokenPlus:
		return OpAdd, bpAdd, true
	case TokenMinus:
		return OpSub, bpAdd, true
	case TokenStar:
		return OpMul, bpMul, true
	case TokenSlash:
		return OpDiv, bpMul, true
	default:
		return "", 0, false
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.cur.Kind == TokenMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: OpNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.cur
	switch tok.Kind {
	case TokenField:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &FieldRef{Name: tok.Text}, nil

	case TokenString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Const{Lit: LitString, Str: tok.Text}, nil

	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, syntaxErrorf(tok.Pos, "malformed number %q", tok.Text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Const{Lit: LitNumber, Num: f}, nil

	case TokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.cur.Kind != TokenRParen {
			return nil, syntaxErrorf(p.cur.Pos, "expected ')', found %s", p.cur.Kind)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case TokenIdent:
		return p.parseCall()

	default:
		return nil, syntaxErrorf(tok.Pos, "unexpected %s", tok.Kind)
	}
}

func (p *parser) parseCall() (Node, error) {
	nameTok := p.cur
	name := strings.ToUpper(nameTok.Text)
	if name == "CONCATENATE" {
		name = "CONCAT"
	}
	spec, known := functions[name]
	if !known {
		return nil, syntaxErrorf(nameTok.Pos, "unknown function %s", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.Kind != TokenLParen {
		return nil, syntaxErrorf(p.cur.Pos, "expected '(' after %s", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	var args []Node
	if p.cur.Kind != TokenRParen {
		for {
			arg, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur.Kind != TokenComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if p.cur.Kind != TokenRParen {
		return nil, syntaxErrorf(p.cur.Pos, "expected ')' in %s call, found %s", name, p.cur.Kind)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if len(args) < spec.min || (spec.max >= 0 && len(args) > spec.max) {
		return nil, syntaxErrorf(nameTok.Pos, "%s expects %s, got %d", name, arityWord(spec), len(args))
	}

	switch name {
	case "TRUE":
		return &Const{Lit: LitBool, Bool: true}, nil
	case "FALSE":
		return &Const{Lit: LitBool, Bool: false}, nil
	case "BLANK":
		return &Const{Lit: LitNull}, nil
	case "IF":
		cond, then := args[0], args[1]
		var els Node = &Const{Lit: LitNull}
		if len(args) == 3 {
			els = args[2]
		}
		return &Conditional{Cond: cond, Then: then, Else: els}, nil
	default:
		return &FnCall{Name: name, Args: args}, nil
	}
}

func arityWord(a arity) string {
	switch {
	case a.max < 0:
		return "at least " + strconv.Itoa(a.min) + " arguments"
	case a.min == a.max && a.min == 1:
		return "1 argument"
	case a.min == a.max:
		return strconv.Itoa(a.min) + " arguments"
	default:
		return strconv.Itoa(a.min) + " to " + strconv.Itoa(a.max) + " arguments"
	}
}
