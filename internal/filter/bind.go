package filter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// urgencyTolerance is the absolute tolerance for urgency equality.
const urgencyTolerance = 1e-9

type matcher func(r *models.TaskRecord) bool

// Program is an expression whose literals have been resolved against a
// clock. A Program is not safe for concurrent use; bind one per goroutine.
type Program struct {
	expr  *Expression
	now   time.Time
	match matcher
	fold  cases.Caser
}

// Bind resolves every literal in expr. It returns a *ValidationError for
// the first predicate whose value cannot be interpreted, in which case no
// record should be evaluated against expr.
func Bind(expr *Expression, now time.Time) (*Program, error) {
	p := &Program{expr: expr, now: now, fold: cases.Fold()}
	m, err := p.bind(expr.root)
	if err != nil {
		return nil, err
	}
	p.match = m
	return p, nil
}

// Validate reports whether every literal in expr can be bound.
func Validate(expr *Expression, now time.Time) error {
	_, err := Bind(expr, now)
	return err
}

// Expression returns the expression the program was bound from.
func (p *Program) Expression() *Expression { return p.expr }

// Now returns the instant relative dates were resolved against.
func (p *Program) Now() time.Time { return p.now }

// Match reports whether r satisfies the program.
func (p *Program) Match(r *models.TaskRecord) bool { return p.match(r) }

func invalid(n Node, field, value string, err error) error {
	return &ValidationError{Predicate: Canonical(n), Field: field, Value: value, Err: err}
}

func (p *Program) bind(n Node) (matcher, error) {
	switch v := n.(type) {
	case MatchAll:
		return func(*models.TaskRecord) bool { return true }, nil

	case And:
		terms, err := p.bindAll(v.Terms)
		if err != nil {
			return nil, err
		}
		return func(r *models.TaskRecord) bool {
			for _, t := range terms {
				if !t(r) {
					return false
				}
			}
			return true
		}, nil

	case Or:
		terms, err := p.bindAll(v.Terms)
		if err != nil {
			return nil, err
		}
		return func(r *models.TaskRecord) bool {
			for _, t := range terms {
				if t(r) {
					return true
				}
			}
			return false
		}, nil

	case Not:
		inner, err := p.bind(v.Term)
		if err != nil {
			return nil, err
		}
		return func(r *models.TaskRecord) bool { return !inner(r) }, nil

	case StatusPred:
		st, ok := models.ParseStatus(v.Value)
		if !ok {
			return nil, invalid(n, "status", v.Value, errors.New("expected pending, completed, deleted or waiting"))
		}
		return func(r *models.TaskRecord) bool { return r.Status == st }, nil

	case ProjectPred:
		project := v.Value
		return func(r *models.TaskRecord) bool { return r.InProject(project) }, nil

	case PriorityPred:
		pri, ok := models.ParsePriority(v.Value)
		if !ok {
			return nil, invalid(n, "priority", v.Value, errors.New("expected H, M, L or none"))
		}
		return func(r *models.TaskRecord) bool { return r.Priority == pri }, nil

	case TagPred:
		tag := v.Value
		return func(r *models.TaskRecord) bool { return r.HasTag(tag) }, nil

	case UrgencyPred:
		return p.bindUrgency(v)

	case DatePred:
		return p.bindDate(v)

	case TextPred:
		return p.bindText(v), nil

	case BoolPred:
		return p.bindBool(v)

	default:
		return nil, fmt.Errorf("filter: unsupported node %T", n)
	}
}

func (p *Program) bindAll(nodes []Node) ([]matcher, error) {
	out := make([]matcher, len(nodes))
	for i, n := range nodes {
		m, err := p.bind(n)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func (p *Program) bindUrgency(v UrgencyPred) (matcher, error) {
	want, err := strconv.ParseFloat(v.Value, 64)
	if err != nil || math.IsNaN(want) || math.IsInf(want, 0) {
		if err == nil {
			err = errors.New("not a finite number")
		}
		return nil, invalid(v, "urgency", v.Value, err)
	}
	switch v.Op {
	case OpLt:
		return func(r *models.TaskRecord) bool { return r.Urgency < want }, nil
	case OpLe:
		return func(r *models.TaskRecord) bool { return r.Urgency <= want }, nil
	case OpGt:
		return func(r *models.TaskRecord) bool { return r.Urgency > want }, nil
	case OpGe:
		return func(r *models.TaskRecord) bool { return r.Urgency >= want }, nil
	default:
		return func(r *models.TaskRecord) bool { return math.Abs(r.Urgency-want) <= urgencyTolerance }, nil
	}
}

func (p *Program) bindDate(v DatePred) (matcher, error) {
	bound, err := resolveDate(v.Value, p.now)
	if err != nil {
		return nil, invalid(v, v.Field, v.Value, err)
	}
	if bound.none {
		if v.Op != OpEq {
			return nil, invalid(v, v.Field, v.Value, errNoDueDate)
		}
		return func(r *models.TaskRecord) bool { return r.Due == nil }, nil
	}
	op := v.Op
	return func(r *models.TaskRecord) bool {
		return r.Due != nil && bound.match(op, *r.Due)
	}, nil
}

func (p *Program) bindText(v TextPred) matcher {
	needle := foldText(v.Value)
	return func(r *models.TaskRecord) bool {
		return strings.Contains(p.foldHaystack(r.Description), needle)
	}
}

// foldHaystack folds s, taking a fast path for ASCII input.
func (p *Program) foldHaystack(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return strings.ToLower(s)
	}
	return p.fold.String(norm.NFC.String(s))
}

func (p *Program) bindBool(v BoolPred) (matcher, error) {
	want, ok := parseBool(v.Value)
	if !ok {
		return nil, invalid(v, v.Field, v.Value, errors.New("expected true, false, yes, no, 1 or 0"))
	}
	now := p.now
	var test matcher
	switch v.Field {
	case "completed":
		test = func(r *models.TaskRecord) bool { return r.Status == models.StatusCompleted }
	case "deleted":
		test = func(r *models.TaskRecord) bool { return r.Status == models.StatusDeleted }
	case "waiting":
		test = func(r *models.TaskRecord) bool { return r.Status == models.StatusWaiting }
	case "pending":
		test = func(r *models.TaskRecord) bool { return r.Status == models.StatusPending }
	case "overdue":
		test = func(r *models.TaskRecord) bool {
			return r.Status == models.StatusPending && r.Due != nil && r.Due.Before(now)
		}
	case "tagged":
		test = func(r *models.TaskRecord) bool { return len(r.Tags) > 0 }
	case "hasdue":
		test = func(r *models.TaskRecord) bool { return r.Due != nil }
	default:
		return nil, invalid(v, v.Field, v.Value, errors.New("unknown boolean field"))
	}
	return func(r *models.TaskRecord) bool { return test(r) == want }, nil
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	default:
		return false, false
	}
}
