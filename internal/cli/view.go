package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskview/internal/cache"
	"github.com/valter-silva-au/taskview/internal/engine"
	"github.com/valter-silva-au/taskview/internal/filter"
	"github.com/valter-silva-au/taskview/internal/observability"
)

// viewChrome is the number of screen rows not used by table rows: title,
// filter line, table header, status line and help line.
const viewChrome = 5

// maxHistory bounds the filter history kept by the view.
const maxHistory = 50

type viewKeyMap struct {
	edit     key.Binding
	apply    key.Binding
	cancel   key.Binding
	up       key.Binding
	down     key.Binding
	pageUp   key.Binding
	pageDown key.Binding
	home     key.Binding
	end      key.Binding
	refresh  key.Binding
	help     key.Binding
	quit     key.Binding
}

func newViewKeyMap() viewKeyMap {
	return viewKeyMap{
		edit:     key.NewBinding(key.WithKeys("/", "f"), key.WithHelp("/", "edit filter")),
		apply:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
		cancel:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		pageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+b", "b"), key.WithHelp("pgup/b", "page up")),
		pageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+f", " "), key.WithHelp("pgdn/space", "page down")),
		home:     key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "top")),
		end:      key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "bottom")),
		refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k viewKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.edit, k.down, k.up, k.pageDown, k.refresh, k.help, k.quit}
}

func (k viewKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.edit, k.apply, k.cancel},
		{k.up, k.down, k.pageUp, k.pageDown},
		{k.home, k.end, k.refresh},
		{k.help, k.quit},
	}
}

// filterAppliedMsg carries the outcome of SetFilter or Refresh.
type filterAppliedMsg struct {
	text   string
	update engine.Update
	err    error
}

// completionMsg carries a background evaluation result.
type completionMsg struct {
	completion cache.Completion
}

// datasetChangedMsg reports a new dataset version. ok is false once the
// session is closed.
type datasetChangedMsg struct {
	version uint64
	ok      bool
}

type viewModel struct {
	ctx     context.Context
	session *engine.Session
	keys    viewKeyMap
	help    help.Model
	input   textinput.Model
	styled  bool

	width  int
	height int

	// err is the last parse or validation error; the previous filter stays
	// active while it is shown.
	err error

	history      []string
	historyIndex int
	draft        string
}

func newViewModel(ctx context.Context, session *engine.Session, initial string, styled bool) viewModel {
	ti := textinput.New()
	ti.Prompt = "filter> "
	ti.Placeholder = "status:pending sort:urgency"
	ti.CharLimit = 1024
	ti.SetValue(initial)

	return viewModel{
		ctx:          ctx,
		session:      session,
		keys:         newViewKeyMap(),
		help:         help.New(),
		input:        ti,
		styled:       styled,
		historyIndex: -1,
	}
}

func (m viewModel) Init() tea.Cmd {
	return tea.Batch(
		applyFilter(m.ctx, m.session, m.input.Value()),
		waitForChange(m.session.Changes()),
	)
}

func applyFilter(ctx context.Context, s *engine.Session, text string) tea.Cmd {
	return func() tea.Msg {
		upd, err := s.SetFilter(ctx, text)
		return filterAppliedMsg{text: text, update: upd, err: err}
	}
}

func refreshFilter(ctx context.Context, s *engine.Session) tea.Cmd {
	return func() tea.Msg {
		upd, err := s.Refresh(ctx)
		return filterAppliedMsg{text: s.Expression().Source(), update: upd, err: err}
	}
}

func waitForCompletion(ready <-chan cache.Completion) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ready
		if !ok {
			return nil
		}
		return completionMsg{completion: c}
	}
}

func waitForChange(changes <-chan uint64) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-changes
		return datasetChangedMsg{version: v, ok: ok}
	}
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(10, msg.Width-len(m.input.Prompt)-1)
		m.session.SetViewportSize(max(1, msg.Height-viewChrome))
		return m, nil

	case tea.KeyMsg:
		if m.input.Focused() {
			return m.updateEditing(msg)
		}
		return m.updateBrowsing(msg)

	case filterAppliedMsg:
		return m.handleApplied(msg)

	case completionMsg:
		m.session.Apply(msg.completion)
		return m, nil

	case datasetChangedMsg:
		if !msg.ok {
			return m, nil
		}
		return m, tea.Batch(refreshFilter(m.ctx, m.session), waitForChange(m.session.Changes()))
	}

	return m, nil
}

func (m viewModel) updateBrowsing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.edit):
		m.historyIndex = -1
		m.input.CursorEnd()
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.down):
		m.session.Navigate(engine.NavLineDown)
	case key.Matches(msg, m.keys.up):
		m.session.Navigate(engine.NavLineUp)
	case key.Matches(msg, m.keys.pageDown):
		m.session.Navigate(engine.NavPageDown)
	case key.Matches(msg, m.keys.pageUp):
		m.session.Navigate(engine.NavPageUp)
	case key.Matches(msg, m.keys.home):
		m.session.Navigate(engine.NavHome)
	case key.Matches(msg, m.keys.end):
		m.session.Navigate(engine.NavEnd)
	case key.Matches(msg, m.keys.refresh):
		return m, refreshFilter(m.ctx, m.session)
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m viewModel) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		m.input.Blur()
		m.pushHistory(text)
		return m, applyFilter(m.ctx, m.session, text)

	case tea.KeyEsc:
		m.input.Blur()
		m.input.SetValue(m.session.Expression().Source())
		return m, nil

	case tea.KeyUp:
		if len(m.history) == 0 {
			return m, nil
		}
		if m.historyIndex == -1 {
			m.draft = m.input.Value()
			m.historyIndex = len(m.history) - 1
		} else if m.historyIndex > 0 {
			m.historyIndex--
		}
		m.input.SetValue(m.history[m.historyIndex])
		m.input.CursorEnd()
		return m, nil

	case tea.KeyDown:
		if m.historyIndex == -1 {
			return m, nil
		}
		if m.historyIndex < len(m.history)-1 {
			m.historyIndex++
			m.input.SetValue(m.history[m.historyIndex])
		} else {
			m.historyIndex = -1
			m.input.SetValue(m.draft)
		}
		m.input.CursorEnd()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *viewModel) pushHistory(text string) {
	m.historyIndex = -1
	if text == "" || (len(m.history) > 0 && m.history[len(m.history)-1] == text) {
		return
	}
	m.history = append(m.history, text)
	if len(m.history) > maxHistory {
		m.history = m.history[1:]
	}
}

func (m viewModel) handleApplied(msg filterAppliedMsg) (tea.Model, tea.Cmd) {
	var pe *filter.ParseError
	var ve *filter.ValidationError
	switch {
	case msg.err == nil:
		m.err = nil
		if !m.input.Focused() {
			m.input.SetValue(msg.text)
		}
		if msg.update.Pending && msg.update.Ready != nil {
			return m, waitForCompletion(msg.update.Ready)
		}
	case errors.Is(msg.err, engine.ErrSuperseded), errors.Is(msg.err, context.Canceled):
		// A newer filter owns the view.
	case errors.As(msg.err, &pe), errors.As(msg.err, &ve):
		m.err = msg.err
	default:
		m.err = msg.err
		logger().Warn("view: filter failed", "text", msg.text, "error", msg.err.Error())
	}
	return m, nil
}

func (m viewModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" taskview "))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	m.session.Render(newTableRenderer(&b, m.width, m.styled))

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m viewModel) statusLine() string {
	if m.err != nil {
		return errorStyle.Render(describeFilterError(m.err))
	}

	st := m.session.Status()
	parts := []string{fmt.Sprintf("v%d", st.Version)}
	switch {
	case st.Total == 0:
		parts = append(parts, "0 matches")
	default:
		parts = append(parts, fmt.Sprintf("%d matches  rows %d-%d", st.Total, st.Viewport.Offset+1, st.Viewport.End()))
	}
	if st.Pending {
		parts = append(parts, "evaluating…")
	}
	parts = append(parts, fmt.Sprintf("cache %d entries, %.0f%% hits", st.Cache.Entries, st.Cache.HitRate()*100))
	return dimStyle.Render(strings.Join(parts, "  |  "))
}

// describeFilterError renders parse errors with their offset and
// validation errors with the offending predicate.
func describeFilterError(err error) string {
	var pe *filter.ParseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("parse error at %d: expected %s, found %s", pe.Offset, pe.Expected, pe.Found)
	}
	var ve *filter.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("invalid %s in %s: %v", ve.Field, ve.Predicate, ve.Err)
	}
	return err.Error()
}

var (
	viewMetricsAddr string
	viewPlain       bool
)

var viewCmd = &cobra.Command{
	Use:   "view [filter...]",
	Short: "Open the interactive filtered task view",
	Long: `Open a full-screen view of the tasks matching a filter.

Press / to edit the filter and enter to apply it. Parse and validation
errors are shown in the status line while the previous filter stays
active. The view follows changes to the task source when watching is
enabled in .taskviewrc.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Session == nil {
			return fmt.Errorf("session not initialized")
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		addr := viewMetricsAddr
		if addr == "" {
			addr = config().Metrics.Listen
		}
		if addr != "" {
			shutdown, err := observability.InitMetrics("taskview", appVersion)
			if err != nil {
				return fmt.Errorf("initializing metrics: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()
			go func() {
				if err := observability.ServeMetrics(ctx, addr, logger()); err != nil {
					logger().Error("metrics server failed", "error", err.Error())
				}
			}()
		}

		m := newViewModel(ctx, Session, strings.Join(args, " "), !viewPlain)
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	viewCmd.Flags().StringVar(&viewMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.listen)")
	viewCmd.Flags().BoolVar(&viewPlain, "plain", false, "Disable colors")
	rootCmd.AddCommand(viewCmd)
}
