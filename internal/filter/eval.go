package filter

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// cancelCheckInterval is how many records are scanned between context checks.
const cancelCheckInterval = 1024

// Evaluator runs compiled expressions over dataset snapshots. Relative
// dates resolve against its clock, so results are deterministic for a
// fixed dataset version, expression and clock reading.
type Evaluator struct {
	now func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock sets the clock used to resolve relative dates.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator creates an Evaluator using the wall clock unless overridden.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bind resolves the literals of expr against the evaluator clock.
func (e *Evaluator) Bind(expr *Expression) (*Program, error) {
	p, err := Bind(expr, e.now())
	if err != nil {
		validationErrors.Inc()
		return nil, err
	}
	return p, nil
}

// Evaluate returns the IDs of the records in ds matching expr, ordered by
// the expression's sort specification with ties broken by ID ascending.
func (e *Evaluator) Evaluate(ctx context.Context, ds *models.Dataset, expr *Expression) ([]string, error) {
	p, err := e.Bind(expr)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, ds)
}

// Evaluate is a convenience wrapper using the wall clock and no deadline.
func Evaluate(ds *models.Dataset, expr *Expression) ([]string, error) {
	return NewEvaluator().Evaluate(context.Background(), ds, expr)
}

// Run evaluates the program over ds in a single pass.
func (p *Program) Run(ctx context.Context, ds *models.Dataset) ([]string, error) {
	start := time.Now()
	n := ds.Len()
	matched := make([]int, 0, n/4+1)
	for i := 0; i < n; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				observeEval(outcomeCancelled, start, 0)
				return nil, err
			}
		}
		if p.match(ds.At(i)) {
			matched = append(matched, i)
		}
	}

	cmpFn := compareFor(p.expr.sort)
	slices.SortStableFunc(matched, func(a, b int) int {
		return cmpFn(ds.At(a), ds.At(b))
	})

	ids := make([]string, len(matched))
	for i, idx := range matched {
		ids[i] = ds.At(idx).ID
	}
	observeEval(outcomeOK, start, len(ids))
	return ids, nil
}

// compareFor returns a total order over records for spec. The ID
// tie-break is always ascending; missing due dates sort last in either
// direction.
func compareFor(spec SortSpec) func(a, b *models.TaskRecord) int {
	sign := 1
	if spec.Direction == Desc {
		sign = -1
	}
	var field func(a, b *models.TaskRecord) int
	switch spec.Field {
	case SortDue:
		field = func(a, b *models.TaskRecord) int {
			switch {
			case a.Due == nil && b.Due == nil:
				return 0
			case a.Due == nil:
				return 1
			case b.Due == nil:
				return -1
			}
			return sign * a.Due.Compare(*b.Due)
		}
	case SortPriority:
		field = func(a, b *models.TaskRecord) int {
			return sign * cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
		}
	case SortProject:
		field = func(a, b *models.TaskRecord) int {
			return sign * strings.Compare(a.Project, b.Project)
		}
	case SortStatus:
		field = func(a, b *models.TaskRecord) int {
			return sign * strings.Compare(string(a.Status), string(b.Status))
		}
	case SortDescription:
		field = func(a, b *models.TaskRecord) int {
			return sign * strings.Compare(strings.ToLower(a.Description), strings.ToLower(b.Description))
		}
	case SortID:
		field = func(a, b *models.TaskRecord) int {
			return sign * strings.Compare(a.ID, b.ID)
		}
	default:
		field = func(a, b *models.TaskRecord) int {
			return sign * cmp.Compare(a.Urgency, b.Urgency)
		}
	}
	return func(a, b *models.TaskRecord) int {
		if c := field(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	}
}
