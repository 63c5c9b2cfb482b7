// Package viewport keeps a scroll window over an ordered result sequence
// and yields only the records inside it.
package viewport

import (
	"github.com/valter-silva-au/taskview/pkg/models"
)

// State is the visible window. After every Manager call it satisfies
// 0 <= Offset <= max(0, Total-VisibleCount) and VisibleCount >= 1.
type State struct {
	Offset       int `json:"offset"`
	VisibleCount int `json:"visible_count"`
	Total        int `json:"total"`
}

// MaxOffset returns the largest valid offset.
func (s State) MaxOffset() int {
	return max(0, s.Total-s.VisibleCount)
}

// End returns the exclusive index of the last visible row.
func (s State) End() int {
	return min(s.Total, s.Offset+s.VisibleCount)
}

// Len returns the number of visible rows.
func (s State) Len() int {
	return s.End() - s.Offset
}

// AtTop reports whether the first row is visible.
func (s State) AtTop() bool { return s.Offset == 0 }

// AtBottom reports whether the last row is visible.
func (s State) AtBottom() bool { return s.Offset >= s.MaxOffset() }

// Phase is the manager's interaction state.
type Phase int

const (
	Idle Phase = iota
	Scrolling
	Refiltering
)

func (p Phase) String() string {
	switch p {
	case Scrolling:
		return "scrolling"
	case Refiltering:
		return "refiltering"
	default:
		return "idle"
	}
}

// TransitionFunc observes phase changes.
type TransitionFunc func(from, to Phase)

// LookupFunc resolves a record id.
type LookupFunc func(id string) (models.TaskRecord, bool)

// Manager owns one session's viewport. It is not safe for concurrent use;
// the owning session serializes access.
type Manager struct {
	state        State
	phase        Phase
	onTransition TransitionFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransitionHook registers fn to be called on every phase change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(m *Manager) { m.onTransition = fn }
}

// NewManager creates an Idle manager showing size rows of an empty result.
func NewManager(size int, opts ...Option) *Manager {
	m := &Manager{state: State{VisibleCount: max(1, size)}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current window.
func (m *Manager) State() State { return m.state }

// Phase returns the current interaction state.
func (m *Manager) Phase() Phase { return m.phase }

func (m *Manager) transition(to Phase) {
	if m.phase == to {
		return
	}
	from := m.phase
	m.phase = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}

// clamp restores the offset invariant.
func (m *Manager) clamp() {
	m.state.Offset = min(max(0, m.state.Offset), m.state.MaxOffset())
}

// SetViewportSize sets the number of visible rows. Values below one are
// treated as one.
func (m *Manager) SetViewportSize(n int) State {
	m.state.VisibleCount = max(1, n)
	m.clamp()
	return m.state
}

// ScrollTo moves the window to offset, clamped to the valid range.
func (m *Manager) ScrollTo(offset int) State {
	m.transition(Scrolling)
	m.state.Offset = offset
	m.clamp()
	m.transition(Idle)
	return m.state
}

// ScrollBy moves the window by delta rows, clamped to the valid range.
func (m *Manager) ScrollBy(delta int) State {
	target := m.state.Offset + delta
	// Saturate instead of wrapping for extreme deltas.
	if delta > 0 && target < m.state.Offset {
		target = m.state.MaxOffset()
	} else if delta < 0 && target > m.state.Offset {
		target = 0
	}
	return m.ScrollTo(target)
}

// LineUp scrolls one row up.
func (m *Manager) LineUp() State { return m.ScrollBy(-1) }

// LineDown scrolls one row down.
func (m *Manager) LineDown() State { return m.ScrollBy(1) }

// PageUp scrolls one page up.
func (m *Manager) PageUp() State { return m.ScrollBy(-m.state.VisibleCount) }

// PageDown scrolls one page down.
func (m *Manager) PageDown() State { return m.ScrollBy(m.state.VisibleCount) }

// Home scrolls to the first row.
func (m *Manager) Home() State { return m.ScrollTo(0) }

// End scrolls to the last page.
func (m *Manager) End() State { return m.ScrollTo(m.state.MaxOffset()) }

// Reveal scrolls the minimum distance needed to make row index visible.
func (m *Manager) Reveal(index int) State {
	switch {
	case index < m.state.Offset:
		return m.ScrollTo(index)
	case index >= m.state.Offset+m.state.VisibleCount:
		return m.ScrollTo(index - m.state.VisibleCount + 1)
	default:
		return m.state
	}
}

// BeginRefilter enters the Refiltering phase. The next OnResultsChanged
// call returns the manager to Idle.
func (m *Manager) BeginRefilter() {
	m.transition(Refiltering)
}

// OnResultsChanged records a new result count. The offset is kept when it
// is still valid and clamped to the new maximum otherwise.
func (m *Manager) OnResultsChanged(total int) State {
	m.SetTotal(total)
	m.EndRefilter()
	return m.state
}

// SetTotal records a result count and reclamps the offset without
// changing the phase. A refilter that is still running uses it to show a
// stand-in result.
func (m *Manager) SetTotal(total int) State {
	m.state.Total = max(0, total)
	m.clamp()
	return m.state
}

// EndRefilter returns to Idle from Refiltering without changing the
// window. It is used when a refilter is abandoned.
func (m *Manager) EndRefilter() {
	if m.phase == Refiltering {
		m.transition(Idle)
	}
}

// Refilter runs a complete Idle, Refiltering, Idle cycle for a result of
// total rows.
func (m *Manager) Refilter(total int) State {
	m.BeginRefilter()
	return m.OnResultsChanged(total)
}

// VisibleSlice resolves the records inside the window. ids is the ordered
// result; if its length differs from the recorded total the window is
// reclamped to it first without changing the phase. Ids that lookup cannot
// resolve are returned as records carrying only the id. Work is
// proportional to the window size.
func (m *Manager) VisibleSlice(ids []string, lookup LookupFunc) []models.TaskRecord {
	if len(ids) != m.state.Total {
		m.SetTotal(len(ids))
	}
	start, end := m.state.Offset, m.state.End()
	out := make([]models.TaskRecord, 0, end-start)
	for _, id := range ids[start:end] {
		if lookup != nil {
			if rec, ok := lookup(id); ok {
				out = append(out, rec)
				continue
			}
		}
		out = append(out, models.TaskRecord{ID: id})
	}
	return out
}
