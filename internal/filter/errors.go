package filter

import "fmt"

// ParseError reports malformed filter text. Offset is the 0-based byte
// offset of the offending token in the source text.
type ParseError struct {
	Offset   int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter parse error at offset %d: expected %s, found %s", e.Offset, e.Expected, e.Found)
}

// ValidationError reports a predicate whose literal cannot be interpreted,
// such as an unparseable date. Evaluation of the whole expression is
// rejected when any predicate fails validation.
type ValidationError struct {
	Predicate string
	Field     string
	Value     string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value %q in %s: %v", e.Field, e.Value, e.Predicate, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func describeToken(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokLParen:
		return `"("`
	case tokRParen:
		return `")"`
	default:
		return fmt.Sprintf("%q", t.text)
	}
}
