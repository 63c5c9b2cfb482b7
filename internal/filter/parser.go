package filter

import (
	"fmt"
	"sort"
	"strings"
)

// predicateKind identifies which predicate a field name compiles to.
type predicateKind int

const (
	kindStatus predicateKind = iota
	kindProject
	kindPriority
	kindTag
	kindUrgency
	kindDate
	kindText
	kindBool
)

// fields maps every accepted field name (including aliases) to its kind.
var fields = map[string]predicateKind{
	"status":      kindStatus,
	"project":     kindProject,
	"proj":        kindProject,
	"priority":    kindPriority,
	"pri":         kindPriority,
	"tag":         kindTag,
	"tags":        kindTag,
	"urgency":     kindUrgency,
	"urg":         kindUrgency,
	"due":         kindDate,
	"description": kindText,
	"desc":        kindText,
	"completed":   kindBool,
	"deleted":     kindBool,
	"waiting":     kindBool,
	"pending":     kindBool,
	"overdue":     kindBool,
	"tagged":      kindBool,
	"hasdue":      kindBool,
}

var sortFields = map[string]SortField{
	"urgency":     SortUrgency,
	"urg":         SortUrgency,
	"due":         SortDue,
	"priority":    SortPriority,
	"pri":         SortPriority,
	"project":     SortProject,
	"proj":        SortProject,
	"status":      SortStatus,
	"description": SortDescription,
	"desc":        SortDescription,
	"id":          SortID,
}

// FieldNames returns the accepted field names in sorted order, including
// "sort". It backs shell completion and error messages.
func FieldNames() []string {
	names := make([]string, 0, len(fields)+1)
	for name := range fields {
		names = append(names, name)
	}
	names = append(names, "sort")
	sort.Strings(names)
	return names
}

// Compile parses filter text into an Expression. It returns a *ParseError
// for unbalanced parentheses, unknown fields, invalid operators and a
// misplaced sort token. Literal values are checked later, when the
// expression is bound for evaluation.
func Compile(text string) (*Expression, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}

	spec := DefaultSort
	if n := len(toks); n >= 2 && isSortToken(toks[n-2]) {
		spec, err = parseSort(toks[n-2])
		if err != nil {
			return nil, err
		}
		toks = append(toks[:n-2:n-2], toks[n-1])
	}

	p := &parser{toks: toks}
	var root Node = MatchAll{}
	if p.peek().kind != tokEOF {
		root, err = p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.peek(); t.kind != tokEOF {
			return nil, &ParseError{Offset: t.pos, Expected: "end of input", Found: describeToken(t)}
		}
	}

	expr := &Expression{
		source: text,
		root:   simplify(root),
		sort:   spec,
	}
	expr.canonical = canonicalize(expr.root, expr.sort)
	expr.fingerprint = fingerprint(expr.canonical)
	return expr, nil
}

// MustCompile is like Compile but panics on error. It is intended for
// tests and package-level defaults.
func MustCompile(text string) *Expression {
	expr, err := Compile(text)
	if err != nil {
		panic(fmt.Sprintf("filter: Compile(%q): %v", text, err))
	}
	return expr
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) parseOr() (Node, error) {
	start := p.peek().pos
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Node{left}
	for p.peek().keyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return Or{Terms: terms, Offset: start}, nil
}

func (p *parser) parseAnd() (Node, error) {
	start := p.peek().pos
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Node{left}
	for {
		t := p.peek()
		if t.kind == tokEOF || t.kind == tokRParen || t.keyword("or") {
			break
		}
		if t.keyword("and") {
			p.next()
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return And{Terms: terms, Offset: start}, nil
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if t.keyword("not") {
		p.next()
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Term: term, Offset: t.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, &ParseError{Offset: p.peek().pos, Expected: "expression", Found: `")"`}
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, &ParseError{Offset: closing.pos, Expected: `")"`, Found: describeToken(closing)}
		}
		return inner, nil
	case tokWord:
		if t.isKeyword() {
			return nil, &ParseError{Offset: t.pos, Expected: "filter term", Found: describeToken(t)}
		}
		return parseTerm(t)
	default:
		return nil, &ParseError{Offset: t.pos, Expected: "filter term", Found: describeToken(t)}
	}
}

func isSortToken(t token) bool {
	return t.kind == tokWord && !t.quoted && t.colon >= 0 && strings.EqualFold(t.text[:t.colon], "sort")
}

func parseTerm(t token) (Node, error) {
	if isSortToken(t) {
		return nil, &ParseError{Offset: t.pos, Expected: "sort specification as the last token", Found: describeToken(t)}
	}
	if t.quoted || t.colon < 0 {
		if !t.quoted && len(t.text) > 1 && (t.text[0] == '+' || t.text[0] == '-') {
			tag := TagPred{Value: t.text[1:], Offset: t.pos}
			if t.text[0] == '-' {
				return Not{Term: tag, Offset: t.pos}, nil
			}
			return tag, nil
		}
		return TextPred{Value: t.text, Offset: t.pos}, nil
	}

	name := strings.ToLower(t.text[:t.colon])
	raw := t.text[t.colon+1:]
	valuePos := t.pos + t.colon + 1
	if name == "" {
		return nil, &ParseError{Offset: t.pos, Expected: "field name", Found: describeToken(t)}
	}
	kind, ok := fields[name]
	if !ok {
		return nil, &ParseError{
			Offset:   t.pos,
			Expected: "known field (" + strings.Join(FieldNames(), ", ") + ")",
			Found:    fmt.Sprintf("%q", name),
		}
	}

	op, value := splitOperator(raw)
	if op != "" && kind != kindUrgency && kind != kindDate {
		return nil, &ParseError{Offset: valuePos, Expected: "value without operator for field " + name, Found: fmt.Sprintf("operator %q", op)}
	}
	if value != "" && strings.ContainsRune("<>=!~", rune(value[0])) {
		return nil, &ParseError{Offset: valuePos, Expected: "one of the operators <, <=, >, >=, =", Found: fmt.Sprintf("%q", raw)}
	}
	if value == "" {
		return nil, &ParseError{Offset: valuePos, Expected: "value for field " + name, Found: "nothing"}
	}
	if op == "" {
		op = OpEq
	}

	switch kind {
	case kindStatus:
		return StatusPred{Value: value, Offset: t.pos}, nil
	case kindProject:
		return ProjectPred{Value: value, Offset: t.pos}, nil
	case kindPriority:
		return PriorityPred{Value: value, Offset: t.pos}, nil
	case kindTag:
		return TagPred{Value: value, Offset: t.pos}, nil
	case kindUrgency:
		return UrgencyPred{Op: op, Value: value, Offset: t.pos}, nil
	case kindDate:
		return DatePred{Field: name, Op: op, Value: value, Offset: t.pos}, nil
	case kindText:
		return TextPred{Value: value, Offset: t.pos}, nil
	default:
		return BoolPred{Field: name, Value: value, Offset: t.pos}, nil
	}
}

// splitOperator separates a leading comparison operator from a value.
func splitOperator(raw string) (Op, string) {
	for _, op := range []Op{OpLe, OpGe, OpLt, OpGt, OpEq} {
		if strings.HasPrefix(raw, string(op)) {
			return op, raw[len(op):]
		}
	}
	return "", raw
}

func parseSort(t token) (SortSpec, error) {
	parts := strings.Split(t.text[t.colon+1:], ":")
	name := strings.ToLower(parts[0])
	if name == "" {
		return SortSpec{}, &ParseError{Offset: t.pos + t.colon + 1, Expected: "sort field", Found: "nothing"}
	}
	field, ok := sortFields[name]
	if !ok {
		return SortSpec{}, &ParseError{
			Offset:   t.pos + t.colon + 1,
			Expected: "sort field (urgency, due, priority, project, status, description, id)",
			Found:    fmt.Sprintf("%q", name),
		}
	}
	spec := SortSpec{Field: field, Direction: defaultDirection(field)}
	switch len(parts) {
	case 1:
	case 2:
		switch Direction(strings.ToLower(parts[1])) {
		case Asc:
			spec.Direction = Asc
		case Desc:
			spec.Direction = Desc
		default:
			return SortSpec{}, &ParseError{Offset: t.pos, Expected: "sort direction asc or desc", Found: fmt.Sprintf("%q", parts[1])}
		}
	default:
		return SortSpec{}, &ParseError{Offset: t.pos, Expected: "sort:field[:asc|desc]", Found: describeToken(t)}
	}
	return spec, nil
}

// simplify flattens nested And/Or of the same kind and removes double
// negation. It never reorders terms.
func simplify(n Node) Node {
	switch v := n.(type) {
	case And:
		var terms []Node
		for _, t := range v.Terms {
			t = simplify(t)
			if inner, ok := t.(And); ok {
				terms = append(terms, inner.Terms...)
				continue
			}
			terms = append(terms, t)
		}
		return And{Terms: terms, Offset: v.Offset}
	case Or:
		var terms []Node
		for _, t := range v.Terms {
			t = simplify(t)
			if inner, ok := t.(Or); ok {
				terms = append(terms, inner.Terms...)
				continue
			}
			terms = append(terms, t)
		}
		return Or{Terms: terms, Offset: v.Offset}
	case Not:
		inner := simplify(v.Term)
		if nn, ok := inner.(Not); ok {
			return nn.Term
		}
		return Not{Term: inner, Offset: v.Offset}
	default:
		return n
	}
}
