package formula

import (
	"fmt"
	"strings"
)

// SyntaxError reports a malformed formula. Pos is the byte offset into the
// original formula source at which the problem was detected.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

func syntaxErrorf(pos int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// lexer walks a formula source string one token at a time. Formulas may span
// multiple lines; whitespace between tokens carries no meaning.
type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (Token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Pos: start}, nil
	}

	switch c := l.src[l.pos]; {
	case c == '{':
		return l.lexField()
	case c == '"' || c == '\'':
		return l.lexString()
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isIdentStart(c):
		return l.lexIdent()
	case c == '(':
		l.pos++
		return Token{Kind: TokenLParen, Text: "(", Pos: start}, nil
	case c == ')':
		l.pos++
		return Token{Kind: TokenRParen, Text: ")", Pos: start}, nil
	case c == ',':
		l.pos++
		return Token{Kind: TokenComma, Text: ",", Pos: start}, nil
	case c == '=':
		l.pos++
		return Token{Kind: TokenEq, Text: "=", Pos: start}, nil
	case c == '&':
		l.pos++
		return Token{Kind: TokenAmp, Text: "&", Pos: start}, nil
	case c == '+':
		l.pos++
		return Token{Kind: TokenPlus, Text: "+", Pos: start}, nil
	case c == '-':
		l.pos++
		return Token{Kind: TokenMinus, Text: "-", Pos: start}, nil
	case c == '*':
		l.pos++
		return Token{Kind: TokenStar, Text: "*", Pos: start}, nil
	case c == '/':
		l.pos++
		return Token{Kind: TokenSlash, Text: "/", Pos: start}, nil
	case c == '<':
		l.pos++
		if l.pos < len(l.src) {
			switch l.src[l.pos] {
			case '>':
				l.pos++
				return Token{Kind: TokenNe, Text: "<>", Pos: start}, nil
			case '=':
				l.pos++
				return Token{Kind: TokenLe, Text: "<=", Pos: start}, nil
			}
		}
		return Token{Kind: TokenLt, Text: "<", Pos: start}, nil
	case c == '>':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return Token{Kind: TokenGe, Text: ">=", Pos: start}, nil
		}
		return Token{Kind: TokenGt, Text: ">", Pos: start}, nil
	case c == '!':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			// accepted spelling of <>
			return Token{Kind: TokenNe, Text: "<>", Pos: start}, nil
		}
		return Token{}, syntaxErrorf(start, "unexpected character '!'")
	default:
		return Token{}, syntaxErrorf(start, "unexpected character %q", string(c))
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		default:
			return
		}
	}
}

// lexField scans a {{Name}} reference. The name is every rune between the
// double braces; single braces are not a valid reference.
func (l *lexer) lexField() (Token, error) {
	start := l.pos
	if !strings.HasPrefix(l.src[l.pos:], "{{") {
		return Token{}, syntaxErrorf(start, "field references are written {{Name}}")
	}
	end := strings.Index(l.src[l.pos+2:], "}}")
	if end < 0 {
		return Token{}, syntaxErrorf(start, "unterminated field reference")
	}
	name := l.src[l.pos+2 : l.pos+2+end]
	if strings.TrimSpace(name) == "" {
		return Token{}, syntaxErrorf(start, "empty field reference")
	}
	l.pos += 2 + end + 2
	return Token{Kind: TokenField, Text: name, Pos: start}, nil
}

func (l *lexer) lexString() (Token, error) {
	start := l.pos
	quote := l.src[l.pos]
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return Token{Kind: TokenString, Text: sb.String(), Pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return Token{}, syntaxErrorf(start, "unterminated string literal")
			}
			esc := l.src[l.pos+1]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '"', '\'':
				sb.WriteByte(esc)
			default:
				return Token{}, syntaxErrorf(l.pos, "unknown escape '\\%s'", string(esc))
			}
			l.pos += 2
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return Token{}, syntaxErrorf(start, "unterminated string literal")
}

func (l *lexer) lexNumber() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		digits := 0
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
			digits++
		}
		if digits == 0 {
			return Token{}, syntaxErrorf(start, "malformed number literal")
		}
	}
	return Token{Kind: TokenNumber, Text: l.src[start:l.pos], Pos: start}, nil
}

func (l *lexer) lexIdent() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return Token{Kind: TokenIdent, Text: l.src[start:l.pos], Pos: start}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
