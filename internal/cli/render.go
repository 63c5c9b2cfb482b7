package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"

	"github.com/valter-silva-au/taskview/internal/viewport"
	"github.com/valter-silva-au/taskview/pkg/models"
)

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	statusWaiting   = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusDeleted   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	priorityHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	priorityMed  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	priorityLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// column widths; the description takes whatever is left.
const (
	colID       = 8
	colStatus   = 9
	colPriority = 3
	colUrgency  = 6
	colDue      = 10
	colProject  = 16
	colTags     = 18
	minDescCol  = 12
)

// tableRenderer writes the visible window as a fixed-width table. It
// implements engine.Renderer.
type tableRenderer struct {
	w      io.Writer
	width  int
	styled bool
	now    func() time.Time
}

func newTableRenderer(w io.Writer, width int, styled bool) *tableRenderer {
	return &tableRenderer{w: w, width: width, styled: styled, now: time.Now}
}

// stdoutIsTerminal reports whether styled output should be written to stdout.
func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (r *tableRenderer) Render(visible []models.TaskRecord, vp viewport.State) {
	fmt.Fprintln(r.w, r.header())
	for _, rec := range visible {
		fmt.Fprintln(r.w, r.row(rec))
	}
	if vp.Total == 0 {
		fmt.Fprintln(r.w, r.style(dimStyle, "  no matching tasks"))
	}
}

func (r *tableRenderer) descWidth() int {
	fixed := colID + colStatus + colPriority + colUrgency + colDue + colProject + colTags + 7
	if r.width <= 0 {
		return 40
	}
	return max(minDescCol, r.width-fixed)
}

func (r *tableRenderer) header() string {
	line := strings.Join([]string{
		fit("ID", colID),
		fit("STATUS", colStatus),
		fit("PRI", colPriority),
		fitRight("URG", colUrgency),
		fit("DUE", colDue),
		fit("PROJECT", colProject),
		fit("TAGS", colTags),
		fit("DESCRIPTION", r.descWidth()),
	}, " ")
	return r.style(headerStyle, strings.TrimRight(line, " "))
}

func (r *tableRenderer) row(rec models.TaskRecord) string {
	if rec.Status == "" {
		// Placeholder for an id the current snapshot no longer holds.
		return fit(rec.ID, colID) + " " + r.style(dimStyle, "(removed)")
	}

	due := ""
	overdue := false
	if rec.Due != nil {
		due = rec.Due.Format(time.DateOnly)
		overdue = rec.Status == models.StatusPending && rec.Due.Before(r.now())
	}

	cells := []string{
		fit(rec.ID, colID),
		r.style(styleForStatus(rec.Status), fit(string(rec.Status), colStatus)),
		r.style(styleForPriority(rec.Priority), fit(string(rec.Priority), colPriority)),
		fitRight(fmt.Sprintf("%.2f", rec.Urgency), colUrgency),
		fit(due, colDue),
		fit(rec.Project, colProject),
		fit(strings.Join(rec.Tags, ","), colTags),
		fit(rec.Description, r.descWidth()),
	}
	if overdue {
		cells[4] = r.style(overdueStyle, cells[4])
	}
	return strings.TrimRight(strings.Join(cells, " "), " ")
}

func (r *tableRenderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func styleForStatus(status models.TaskStatus) lipgloss.Style {
	switch status {
	case models.StatusPending:
		return statusPending
	case models.StatusWaiting:
		return statusWaiting
	case models.StatusCompleted:
		return statusCompleted
	case models.StatusDeleted:
		return statusDeleted
	default:
		return lipgloss.NewStyle()
	}
}

func styleForPriority(p models.Priority) lipgloss.Style {
	switch p {
	case models.PriorityHigh:
		return priorityHigh
	case models.PriorityMed:
		return priorityMed
	case models.PriorityLow:
		return priorityLow
	default:
		return lipgloss.NewStyle()
	}
}

// fit pads or truncates s to exactly n terminal cells, left aligned.
// A wide character that would straddle the edge is dropped and the gap
// padded.
func fit(s string, n int) string {
	n = max(0, n)
	if lipgloss.Width(s) > n {
		tail := "…"
		if n <= 1 {
			tail = ""
		}
		s = ansi.Truncate(s, n, tail)
	}
	return s + strings.Repeat(" ", max(0, n-lipgloss.Width(s)))
}

// fitRight pads s on the left to n cells.
func fitRight(s string, n int) string {
	w := lipgloss.Width(s)
	if w >= n {
		return fit(s, n)
	}
	return strings.Repeat(" ", n-w) + s
}
