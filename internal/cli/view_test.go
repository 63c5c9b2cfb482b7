package cli

import (
	"context"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/valter-silva-au/taskview/internal/engine"
	"github.com/valter-silva-au/taskview/internal/filter"
	"github.com/valter-silva-au/taskview/internal/source"
	"github.com/valter-silva-au/taskview/pkg/models"
)

func viewFixture(n int) []models.TaskRecord {
	recs := make([]models.TaskRecord, n)
	for i := range recs {
		status := models.StatusPending
		if i%3 == 2 {
			status = models.StatusCompleted
		}
		recs[i] = models.TaskRecord{
			ID:          fmt.Sprintf("T%02d", i),
			Status:      status,
			Project:     "work",
			Urgency:     float64(n - i),
			Description: fmt.Sprintf("task %d", i),
		}
	}
	return recs
}

func newTestView(t *testing.T, n int) (viewModel, *engine.Session) {
	t.Helper()
	session := engine.NewSession(source.NewStore(viewFixture(n)), models.DefaultConfig())
	t.Cleanup(session.Close)
	m := newViewModel(context.Background(), session, "", false)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 15})
	return m, session
}

func update(t *testing.T, m viewModel, msg tea.Msg) viewModel {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(viewModel)
}

// settle runs a filter command and feeds its outcome, and any background
// completion it leads to, back into the model.
func settle(t *testing.T, m viewModel, cmd tea.Cmd) viewModel {
	t.Helper()
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			break
		}
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(viewModel)
	}
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// applyText edits the filter to text and presses enter.
func applyText(t *testing.T, m viewModel, text string) viewModel {
	t.Helper()
	m = update(t, m, keyRunes("/"))
	if !m.input.Focused() {
		t.Fatal("expected / to focus the filter input")
	}
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(viewModel)
	if m.input.Focused() {
		t.Fatal("expected enter to leave edit mode")
	}
	return settle(t, m, cmd)
}

func TestViewModel_WindowSizeSetsViewport(t *testing.T) {
	_, session := newTestView(t, 30)

	if got := session.Viewport().VisibleCount; got != 15-viewChrome {
		t.Errorf("VisibleCount = %d, want %d", got, 15-viewChrome)
	}
}

func TestViewModel_LoadingBeforeSize(t *testing.T) {
	session := engine.NewSession(source.NewStore(nil), models.DefaultConfig())
	defer session.Close()
	m := newViewModel(context.Background(), session, "", false)

	if m.View() != "Loading..." {
		t.Errorf("View() = %q", m.View())
	}
}

func TestViewModel_ApplyFilter(t *testing.T) {
	m, session := newTestView(t, 30)

	m = applyText(t, m, "status:pending")

	if got, want := session.Expression().Canonical(), filter.MustCompile("status:pending").Canonical(); got != want {
		t.Errorf("active canonical = %q, want %q", got, want)
	}
	if got := session.Status().Total; got != 20 {
		t.Errorf("Total = %d, want 20", got)
	}
	if m.err != nil {
		t.Errorf("unexpected error: %v", m.err)
	}
	view := m.View()
	if !strings.Contains(view, "20 matches") {
		t.Errorf("status line missing match count:\n%s", view)
	}
	if !strings.Contains(view, "T00") {
		t.Errorf("expected first row in view:\n%s", view)
	}
}

func TestViewModel_ParseErrorKeepsPreviousFilter(t *testing.T) {
	m, session := newTestView(t, 30)
	m = applyText(t, m, "status:pending")

	m = applyText(t, m, "(status:pending")

	if m.err == nil {
		t.Fatal("expected parse error to be shown")
	}
	if got := session.Expression().Source(); got != "status:pending" {
		t.Errorf("previous filter should stay active, got %q", got)
	}
	if !strings.Contains(m.View(), "parse error at") {
		t.Errorf("status line should describe the parse error:\n%s", m.View())
	}

	m = applyText(t, m, "status:completed")
	if m.err != nil {
		t.Errorf("a valid filter should clear the error, got %v", m.err)
	}
}

func TestViewModel_EscRestoresActiveFilter(t *testing.T) {
	m, _ := newTestView(t, 10)
	m = applyText(t, m, "project:work")

	m = update(t, m, keyRunes("/"))
	m = update(t, m, keyRunes(" garbage"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.input.Focused() {
		t.Error("esc should leave edit mode")
	}
	if got := m.input.Value(); got != "project:work" {
		t.Errorf("input = %q, want the active filter", got)
	}
}

func TestViewModel_History(t *testing.T) {
	m, _ := newTestView(t, 10)
	m = applyText(t, m, "status:pending")
	m = applyText(t, m, "status:completed")
	m = applyText(t, m, "status:completed")

	if len(m.history) != 2 {
		t.Fatalf("history = %v, want two entries without repeats", m.history)
	}

	m = update(t, m, keyRunes("/"))
	m.input.SetValue("draft")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.input.Value(); got != "status:completed" {
		t.Errorf("first up = %q", got)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.input.Value(); got != "status:pending" {
		t.Errorf("second up = %q", got)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if got := m.input.Value(); got != "status:pending" {
		t.Errorf("up past the oldest entry = %q", got)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if got := m.input.Value(); got != "draft" {
		t.Errorf("down past the newest entry should restore the draft, got %q", got)
	}
}

func TestViewModel_HistoryBounded(t *testing.T) {
	m, _ := newTestView(t, 1)
	for i := range maxHistory + 5 {
		m.pushHistory(fmt.Sprintf("urgency:>%d", i))
	}
	if len(m.history) != maxHistory {
		t.Fatalf("len(history) = %d, want %d", len(m.history), maxHistory)
	}
	if m.history[0] != "urgency:>5" {
		t.Errorf("oldest entry = %q, want urgency:>5", m.history[0])
	}
}

func TestViewModel_Navigation(t *testing.T) {
	m, session := newTestView(t, 30)
	m = settle(t, m, applyFilter(context.Background(), session, ""))

	steps := []struct {
		key  string
		want int
	}{
		{"j", 1},
		{"j", 2},
		{"k", 1},
		{" ", 11},
		{"G", 20},
		{"j", 20},
		{"b", 10},
		{"g", 0},
		{"k", 0},
	}
	for _, s := range steps {
		m = update(t, m, keyRunes(s.key))
		if got := session.Viewport().Offset; got != s.want {
			t.Fatalf("after %q offset = %d, want %d", s.key, got, s.want)
		}
	}
}

func TestViewModel_QuitKeys(t *testing.T) {
	m, _ := newTestView(t, 1)

	_, cmd := m.Update(keyRunes("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}

	// q while editing is text, ctrl+c always quits.
	m = update(t, m, keyRunes("/"))
	m = update(t, m, keyRunes("q"))
	if m.input.Value() != "q" {
		t.Errorf("input = %q, want q", m.input.Value())
	}
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c should quit")
	}
}

func TestViewModel_SupersededIgnored(t *testing.T) {
	m, _ := newTestView(t, 1)

	m = update(t, m, filterAppliedMsg{text: "x", err: engine.ErrSuperseded})
	if m.err != nil {
		t.Errorf("superseded evaluations should not surface, got %v", m.err)
	}
	m = update(t, m, filterAppliedMsg{text: "x", err: context.Canceled})
	if m.err != nil {
		t.Errorf("cancelled evaluations should not surface, got %v", m.err)
	}
}

func TestViewModel_HelpToggle(t *testing.T) {
	m, _ := newTestView(t, 1)
	m = update(t, m, keyRunes("?"))
	if !m.help.ShowAll {
		t.Error("? should expand the help")
	}
	m = update(t, m, keyRunes("?"))
	if m.help.ShowAll {
		t.Error("? should collapse the help again")
	}
}

func TestDescribeFilterError(t *testing.T) {
	_, err := filter.Compile("(status:pending")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if got := describeFilterError(err); !strings.HasPrefix(got, "parse error at ") {
		t.Errorf("describeFilterError = %q", got)
	}

	ve := &filter.ValidationError{Predicate: "due:someday", Field: "due", Value: "someday", Err: fmt.Errorf("unknown date")}
	if got := describeFilterError(ve); got != "invalid due in due:someday: unknown date" {
		t.Errorf("describeFilterError = %q", got)
	}
}
