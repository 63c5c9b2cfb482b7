package filter

import (
	"strings"
)

// Node is one vertex of a compiled filter tree. The set of implementations
// is closed: combinators (MatchAll, And, Or, Not) and one type per
// predicate kind.
type Node interface {
	// Pos returns the byte offset of the node in the source text.
	Pos() int
	writeCanonical(b *strings.Builder)
}

// Op is a comparison operator for ordered fields.
type Op string

const (
	OpEq Op = "="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// MatchAll matches every record. It is the root of an empty expression.
type MatchAll struct{}

// And matches when every term matches. Terms are evaluated left to right.
type And struct {
	Terms  []Node
	Offset int
}

// Or matches when any term matches. Terms are evaluated left to right.
type Or struct {
	Terms  []Node
	Offset int
}

// Not inverts its term.
type Not struct {
	Term   Node
	Offset int
}

// StatusPred matches an exact status.
type StatusPred struct {
	Value  string
	Offset int
}

// ProjectPred matches a project or any of its sub-projects.
type ProjectPred struct {
	Value  string
	Offset int
}

// PriorityPred matches an exact priority.
type PriorityPred struct {
	Value  string
	Offset int
}

// TagPred matches records whose tag set contains Value.
type TagPred struct {
	Value  string
	Offset int
}

// UrgencyPred compares the urgency score with a number.
type UrgencyPred struct {
	Op     Op
	Value  string
	Offset int
}

// DatePred compares a date field with an absolute or relative date.
type DatePred struct {
	Field  string
	Op     Op
	Value  string
	Offset int
}

// TextPred matches a case-insensitive substring of the description.
type TextPred struct {
	Value  string
	Offset int
}

// BoolPred tests a derived boolean property such as completed or overdue.
type BoolPred struct {
	Field  string
	Value  string
	Offset int
}

func (MatchAll) Pos() int       { return 0 }
func (n And) Pos() int          { return n.Offset }
func (n Or) Pos() int           { return n.Offset }
func (n Not) Pos() int          { return n.Offset }
func (n StatusPred) Pos() int   { return n.Offset }
func (n ProjectPred) Pos() int  { return n.Offset }
func (n PriorityPred) Pos() int { return n.Offset }
func (n TagPred) Pos() int      { return n.Offset }
func (n UrgencyPred) Pos() int  { return n.Offset }
func (n DatePred) Pos() int     { return n.Offset }
func (n TextPred) Pos() int     { return n.Offset }
func (n BoolPred) Pos() int     { return n.Offset }

// SortField names a record field usable in a sort specification.
type SortField string

const (
	SortUrgency     SortField = "urgency"
	SortDue         SortField = "due"
	SortPriority    SortField = "priority"
	SortProject     SortField = "project"
	SortStatus      SortField = "status"
	SortDescription SortField = "description"
	SortID          SortField = "id"
)

// Direction is the sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortSpec orders the matching records. Ties are always broken by record
// ID ascending.
type SortSpec struct {
	Field     SortField
	Direction Direction
}

// DefaultSort is applied when an expression carries no sort token.
var DefaultSort = SortSpec{Field: SortUrgency, Direction: Desc}

// defaultDirection is the direction used when a sort token omits it.
func defaultDirection(f SortField) Direction {
	switch f {
	case SortUrgency, SortPriority:
		return Desc
	default:
		return Asc
	}
}

// Expression is a compiled filter: a predicate tree plus a sort
// specification. It is immutable once returned by Compile.
type Expression struct {
	source      string
	root        Node
	sort        SortSpec
	canonical   string
	fingerprint string
}

// Source returns the text the expression was compiled from.
func (e *Expression) Source() string { return e.source }

// Root returns the predicate tree.
func (e *Expression) Root() Node { return e.root }

// Sort returns the sort specification.
func (e *Expression) Sort() SortSpec { return e.sort }

// Canonical returns the canonical serialization used for cache keys.
func (e *Expression) Canonical() string { return e.canonical }

// Fingerprint returns a stable hash of the canonical serialization.
func (e *Expression) Fingerprint() string { return e.fingerprint }

func (e *Expression) String() string { return e.canonical }
