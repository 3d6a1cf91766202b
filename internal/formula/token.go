package formula

import "fmt"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenField
	TokenString
	TokenNumber
	TokenIdent
	TokenLParen
	TokenRParen
	TokenComma
	TokenEq
	TokenNe
	TokenLt
	TokenGt
	TokenLe
	TokenGe
	TokenAmp
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
)

var tokenNames = map[TokenKind]string{
	TokenEOF:    "end of formula",
	TokenField:  "field reference",
	TokenString: "string literal",
	TokenNumber: "number literal",
	TokenIdent:  "identifier",
	TokenLParen: "'('",
	TokenRParen: "')'",
	TokenComma:  "','",
	TokenEq:     "'='",
	TokenNe:     "'<>'",
	TokenLt:     "'<'",
	TokenGt:     "'>'",
	TokenLe:     "'<='",
	TokenGe:     "'>='",
	TokenAmp:    "'&'",
	TokenPlus:   "'+'",
	TokenMinus:  "'-'",
	TokenStar:   "'*'",
	TokenSlash:  "'/'",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is one lexical unit of a formula. Pos is the byte offset of the
// token's first character in the original source string. For TokenField and
// TokenString, Text holds the decoded content rather than the raw spelling.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}
