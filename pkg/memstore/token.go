package memstore

import (
	"strconv"
	"strings"

	"github.com/orneryd/grom/pkg/graph"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokKeyword
	tokString
	tokInt
	tokFloat
	tokParam
	tokSymbol
)

// token is one lexical element of a statement. For keywords, text is
// uppercased for matching and raw keeps the written form; identifiers keep
// their written form (backquotes stripped) in both.
type token struct {
	typ  tokenType
	text string
	raw  string
	pos  int
}

// keywords are the reserved words of the dialect. Matching is
// case-insensitive; everything else that looks like a word is an identifier.
var keywords = map[string]bool{
	"MATCH": true, "WHERE": true, "UNWIND": true, "WITH": true,
	"CREATE": true, "SET": true, "DELETE": true, "DETACH": true,
	"RETURN": true, "DISTINCT": true, "ORDER": true, "BY": true,
	"SKIP": true, "LIMIT": true, "AS": true,
	"AND": true, "OR": true, "NOT": true,
	"STARTS": true, "ENDS": true, "CONTAINS": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"ASC": true, "DESC": true,
	"TRUE": true, "FALSE": true, "NULL": true,
}

// lex splits a statement into tokens. The resulting slice always ends with
// a tokEOF entry.
func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	var out []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.typ == tokEOF {
			return out, nil
		}
	}
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) errorf(pos int, msg string) error {
	return &graph.Error{Code: graph.EInvalid, Op: "memstore.lex",
		Msg: msg + " at offset " + strconv.Itoa(pos)}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.input) {
		return token{typ: tokEOF, pos: start}, nil
	}

	c := l.input[l.pos]
	switch {
	case isIdentStart(c):
		return l.readWord(), nil
	case c == '`':
		return l.readQuotedIdent()
	case c >= '0' && c <= '9':
		return l.readNumber(), nil
	case c == '\'' || c == '"':
		return l.readString()
	case c == '$':
		return l.readParam()
	default:
		return l.readSymbol()
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (l *lexer) readWord() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	upper := strings.ToUpper(word)
	if keywords[upper] {
		return token{typ: tokKeyword, text: upper, raw: word, pos: start}
	}
	return token{typ: tokIdent, text: word, raw: word, pos: start}
}

func (l *lexer) readQuotedIdent() (token, error) {
	start := l.pos
	l.pos++ // opening backquote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '`' {
			// A doubled backquote is an escaped literal backquote.
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '`' {
				sb.WriteByte('`')
				l.pos += 2
				continue
			}
			l.pos++
			return token{typ: tokIdent, text: sb.String(), pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, l.errorf(start, "unterminated quoted identifier")
}

func (l *lexer) readNumber() token {
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
		l.pos++
	}
	// A single dot followed by a digit continues a float; a double dot is
	// the range operator and belongs to the next token.
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' &&
		l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
			l.pos++
		}
		return token{typ: tokFloat, text: l.input[start:l.pos], pos: start}
	}
	return token{typ: tokInt, text: l.input[start:l.pos], pos: start}
}

func (l *lexer) readString() (token, error) {
	start := l.pos
	quote := l.input[l.pos]
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			switch l.input[l.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(l.input[l.pos])
			}
			l.pos++
			continue
		}
		if c == quote {
			l.pos++
			return token{typ: tokString, text: sb.String(), pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, l.errorf(start, "unterminated string literal")
}

func (l *lexer) readParam() (token, error) {
	start := l.pos
	l.pos++ // $
	nameStart := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	if l.pos == nameStart {
		return token{}, l.errorf(start, "parameter name expected after $")
	}
	return token{typ: tokParam, text: l.input[nameStart:l.pos], pos: start}, nil
}

// readSymbol reads punctuation, greedily joining the two-character
// operators.
func (l *lexer) readSymbol() (token, error) {
	start := l.pos
	rest := l.input[l.pos:]
	for _, sym := range [...]string{"<=", ">=", "<>", ".."} {
		if strings.HasPrefix(rest, sym) {
			l.pos += 2
			return token{typ: tokSymbol, text: sym, pos: start}, nil
		}
	}
	c := l.input[l.pos]
	switch c {
	case '(', ')', '[', ']', '{', '}', ',', ':', '.', '=', '<', '>',
		'+', '-', '*', '/', '%', '^', '|':
		l.pos++
		return token{typ: tokSymbol, text: string(c), pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected character "+strings.TrimSpace(string(c)))
}
