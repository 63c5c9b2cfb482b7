package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokWord
)

// token is a lexical unit. For words, text holds the content with quotes
// removed, colon is the index in text of the first unquoted ':' (or -1), and
// quoted reports whether the word started with a quote.
type token struct {
	kind   tokenKind
	text   string
	pos    int
	colon  int
	quoted bool
}

// keyword reports whether t is the bare keyword kw, ignoring case.
func (t token) keyword(kw string) bool {
	return t.kind == tokWord && !t.quoted && t.colon < 0 && strings.EqualFold(t.text, kw)
}

func (t token) isKeyword() bool {
	return t.keyword("and") || t.keyword("or") || t.keyword("not")
}

// lex splits src into tokens. Words are runs of non-space characters other
// than parentheses; double quotes may appear anywhere inside a word and
// protect spaces, parentheses and colons.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i, colon: -1})
			i += size
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i, colon: -1})
			i += size
		default:
			tok, next, err := lexWord(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src), colon: -1})
	return toks, nil
}

func lexWord(src string, start int) (token, int, error) {
	var b strings.Builder
	tok := token{kind: tokWord, pos: start, colon: -1, quoted: src[start] == '"'}
	i := start
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if unicode.IsSpace(r) || r == '(' || r == ')' {
			break
		}
		if r == '"' {
			end, err := readQuoted(src, i, &b)
			if err != nil {
				return token{}, 0, err
			}
			i = end
			continue
		}
		if r == ':' && tok.colon < 0 && !tok.quoted {
			tok.colon = b.Len()
		}
		b.WriteRune(r)
		i += size
	}
	tok.text = b.String()
	return tok, i, nil
}

// readQuoted consumes a double-quoted section starting at src[start] and
// writes its unescaped content to b. It returns the index after the
// closing quote.
func readQuoted(src string, start int, b *strings.Builder) (int, error) {
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch c {
		case '\\':
			if i+1 < len(src) {
				b.WriteByte(src[i+1])
				i += 2
				continue
			}
			i++
		case '"':
			return i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return 0, &ParseError{Offset: start, Expected: "closing quote", Found: "end of input"}
}
