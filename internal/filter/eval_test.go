package filter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// --- Helpers ---

// fixedNow is a Wednesday.
var fixedNow = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fixture() *models.Dataset {
	recs := []models.TaskRecord{
		{ID: "t1", Status: models.StatusPending, Project: "work", Priority: models.PriorityHigh, Tags: []string{"urgent"}, Urgency: 9.5, Due: at("2026-03-10T09:00:00Z"), Description: "Fix login bug"},
		{ID: "t2", Status: models.StatusPending, Project: "work.client", Priority: models.PriorityMed, Tags: []string{"client"}, Urgency: 7.0, Due: at("2026-03-11T18:00:00Z"), Description: "Call ACME about invoice"},
		{ID: "t3", Status: models.StatusCompleted, Project: "workshop", Priority: models.PriorityLow, Urgency: 3.0, Description: "Buy workshop supplies"},
		{ID: "t4", Status: models.StatusWaiting, Project: "home", Tags: []string{"errand"}, Urgency: 5.0, Due: at("2026-03-12T12:00:00Z"), Description: "Pick up Café order"},
		{ID: "t5", Status: models.StatusDeleted, Project: "home", Priority: models.PriorityHigh, Tags: []string{"urgent"}, Urgency: 1.0, Description: "Old thing"},
		{ID: "t6", Status: models.StatusPending, Urgency: 7.0, Due: at("2026-03-20T00:00:00Z"), Description: "Write STRASSE report"},
	}
	for i := range recs {
		recs[i] = models.NewTaskRecord(recs[i])
	}
	return models.NewDataset(1, recs)
}

func fixedEvaluator() *Evaluator {
	return NewEvaluator(WithClock(func() time.Time { return fixedNow }))
}

func mustEval(t *testing.T, ds *models.Dataset, text string) []string {
	t.Helper()
	expr, err := Compile(text)
	if err != nil {
		t.Fatalf("Compile(%q): %v", text, err)
	}
	ids, err := fixedEvaluator().Evaluate(context.Background(), ds, expr)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", text, err)
	}
	return ids
}

// --- Predicate semantics ---

func TestEvaluate_Predicates(t *testing.T) {
	ds := fixture()
	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"t1", "t2", "t6", "t4", "t3", "t5"}},
		{"status:pending", []string{"t1", "t2", "t6"}},
		{"pending:true", []string{"t1", "t2", "t6"}},
		{"completed:1", []string{"t3"}},
		{"deleted:yes", []string{"t5"}},
		{"waiting:true", []string{"t4"}},
		{"project:work", []string{"t1", "t2"}},
		{"proj:work.client", []string{"t2"}},
		{"project:workshop", []string{"t3"}},
		{"+urgent", []string{"t1", "t5"}},
		{"-urgent", []string{"t2", "t6", "t4", "t3"}},
		{"pri:H", []string{"t1", "t5"}},
		{"pri:none", []string{"t6", "t4"}},
		{"urg:>5", []string{"t1", "t2", "t6"}},
		{"urg:<=5", []string{"t4", "t3", "t5"}},
		{"urg:7", []string{"t2", "t6"}},
		{"due:today", []string{"t2"}},
		{"due:tomorrow", []string{"t4"}},
		{"due:yesterday", []string{"t1"}},
		{"due:<today", []string{"t1"}},
		{"due:<=today", []string{"t1", "t2"}},
		{"due:>today", []string{"t6", "t4"}},
		{"due:>=today", []string{"t2", "t6", "t4"}},
		{"due:none", []string{"t3", "t5"}},
		{"due:<=eow", []string{"t1", "t2", "t4"}},
		{"due:<now", []string{"t1"}},
		{"due:<+1d", []string{"t1", "t2"}},
		{"due:2026-03-20", []string{"t6"}},
		{"due:>=2026-03-12T12:00:00Z", []string{"t6", "t4"}},
		{"overdue:true", []string{"t1"}},
		{"hasdue:no", []string{"t3", "t5"}},
		{"tagged:false", []string{"t6", "t3"}},
		{"café", []string{"t4"}},
		{"CAFÉ", []string{"t4"}},
		{"straße", []string{"t6"}},
		{"desc:invoice", []string{"t2"}},
		{`"login bug"`, []string{"t1"}},
		{"(project:home or project:work) not +urgent", []string{"t2", "t4"}},
		{"status:pending or status:waiting sort:due", []string{"t1", "t2", "t4", "t6"}},
		{"sort:due:desc", []string{"t6", "t4", "t2", "t1", "t3", "t5"}},
		{"sort:priority", []string{"t1", "t5", "t2", "t3", "t4", "t6"}},
		{"sort:project", []string{"t6", "t4", "t5", "t1", "t2", "t3"}},
		{"sort:id:desc", []string{"t6", "t5", "t4", "t3", "t2", "t1"}},
		{"nomatch", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			got := mustEval(t, ds, tt.filter)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ValidationRejectsWholeExpression(t *testing.T) {
	ds := fixture()
	tests := []struct {
		filter    string
		wantField string
	}{
		{"due:someday", "due"},
		{"status:bogus", "status"},
		{"pri:X", "priority"},
		{"urg:abc", "urgency"},
		{"urg:NaN", "urgency"},
		{"completed:maybe", "completed"},
		{"due:>none", "due"},
		{"status:pending or due:garbage", "due"},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			expr := MustCompile(tt.filter)
			ids, err := fixedEvaluator().Evaluate(context.Background(), ds, expr)
			if err == nil {
				t.Fatalf("Evaluate(%q) = %v, want ValidationError", tt.filter, ids)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
			if ids != nil {
				t.Errorf("ids = %v, want nil", ids)
			}
		})
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fixedEvaluator().Evaluate(ctx, fixture(), MustCompile(""))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEvaluate_NilDataset(t *testing.T) {
	ids, err := fixedEvaluator().Evaluate(context.Background(), nil, MustCompile("status:pending"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

func TestResolveDate_Boundaries(t *testing.T) {
	tests := []struct {
		in    string
		start string
		day   bool
	}{
		{"sow", "2026-03-09T00:00:00Z", true},
		{"eow", "2026-03-15T00:00:00Z", true},
		{"som", "2026-03-01T00:00:00Z", true},
		{"eom", "2026-03-31T00:00:00Z", true},
		{"+2w", "2026-03-25T00:00:00Z", true},
		{"-1m", "2026-02-11T00:00:00Z", true},
		{"3d", "2026-03-14T00:00:00Z", true},
		{"+12h", "2026-03-11T22:00:00Z", false},
		{"now", "2026-03-11T10:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, err := resolveDate(tt.in, fixedNow)
			if err != nil {
				t.Fatalf("resolveDate(%q): %v", tt.in, err)
			}
			if want := *at(tt.start); !b.start.Equal(want) {
				t.Errorf("start = %v, want %v", b.start, want)
			}
			if b.day != tt.day {
				t.Errorf("day = %v, want %v", b.day, tt.day)
			}
		})
	}
}

func TestResolveDate_RelativeOutOfRange(t *testing.T) {
	for _, in := range []string{"+9999999999h", "-876601h", "+36601d", "5301w", "-1201m", "+99999999999999999999d"} {
		t.Run(in, func(t *testing.T) {
			if b, err := resolveDate(in, fixedNow); err == nil {
				t.Errorf("resolveDate(%q) = %v, want an error", in, b.start)
			}
		})
	}
	for _, in := range []string{"+876600h", "-36600d", "5300w", "+1200m"} {
		t.Run(in, func(t *testing.T) {
			if _, err := resolveDate(in, fixedNow); err != nil {
				t.Errorf("resolveDate(%q): %v", in, err)
			}
		})
	}
}

func TestBind_RelativeOverflowIsValidationError(t *testing.T) {
	_, err := fixedEvaluator().Bind(MustCompile("due:<+9999999999h"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Bind error = %v, want *ValidationError", err)
	}
	if ve.Field != "due" {
		t.Errorf("Field = %q, want due", ve.Field)
	}
}

// --- Large dataset scenario ---

func syntheticDataset(n int, seed uint64) *models.Dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	statuses := models.Statuses
	priorities := []models.Priority{models.PriorityNone, models.PriorityLow, models.PriorityMed, models.PriorityHigh}
	recs := make([]models.TaskRecord, n)
	for i := range recs {
		recs[i] = models.NewTaskRecord(models.TaskRecord{
			ID:          fmt.Sprintf("task-%05d", i),
			Status:      statuses[rng.IntN(len(statuses))],
			Priority:    priorities[rng.IntN(len(priorities))],
			Urgency:     float64(rng.IntN(200)) / 10,
			Description: fmt.Sprintf("synthetic task %d", i),
		})
	}
	return models.NewDataset(1, recs)
}

func TestEvaluate_TenThousandRecords(t *testing.T) {
	ds := syntheticDataset(10_000, 42)

	start := time.Now()
	got := mustEval(t, ds, "status:pending and priority:H")
	elapsed := time.Since(start)

	var want []models.TaskRecord
	for _, r := range ds.Records() {
		if r.Status == models.StatusPending && r.Priority == models.PriorityHigh {
			want = append(want, r)
		}
	}
	slices.SortStableFunc(want, func(a, b models.TaskRecord) int {
		switch {
		case a.Urgency > b.Urgency:
			return -1
		case a.Urgency < b.Urgency:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	wantIDs := make([]string, len(want))
	for i, r := range want {
		wantIDs[i] = r.ID
	}

	if len(wantIDs) == 0 {
		t.Fatal("synthetic dataset produced no pending high-priority records")
	}
	if !slices.Equal(got, wantIDs) {
		t.Fatalf("got %d ids, want %d; first mismatch in ordering", len(got), len(wantIDs))
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("cold evaluation took %v, want < 500ms", elapsed)
	}
}
