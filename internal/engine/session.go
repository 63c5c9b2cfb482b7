// Package engine drives one interactive filter session: it compiles filter
// text, resolves results through the cache and loader, keeps the viewport
// consistent with the active result and follows dataset changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valter-silva-au/taskview/internal/cache"
	"github.com/valter-silva-au/taskview/internal/filter"
	"github.com/valter-silva-au/taskview/internal/observability"
	"github.com/valter-silva-au/taskview/internal/source"
	"github.com/valter-silva-au/taskview/internal/viewport"
	"github.com/valter-silva-au/taskview/pkg/models"
)

// ErrSuperseded is returned by SetFilter and Refresh when a newer filter
// became active while the call was resolving.
var ErrSuperseded = errors.New("engine: filter superseded")

// Renderer draws the visible window of the active result.
type Renderer interface {
	Render(visible []models.TaskRecord, vp viewport.State)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(visible []models.TaskRecord, vp viewport.State)

// Render calls f.
func (f RendererFunc) Render(visible []models.TaskRecord, vp viewport.State) { f(visible, vp) }

// Update describes the outcome of activating a filter.
type Update struct {
	Expression *filter.Expression
	Key        cache.Key
	Total      int
	Hit        bool

	// Pending is set when evaluation moved to the background. The session
	// shows the previous result for the same expression, if any, until
	// the Completion from Ready is passed to Apply.
	Pending bool
	Ready   <-chan cache.Completion

	Viewport viewport.State
}

// Result is a one-shot evaluation that does not touch the active filter.
type Result struct {
	Expression *filter.Expression
	Key        cache.Key
	IDs        []string
}

// Status is a snapshot of the session for status lines.
type Status struct {
	Expression *filter.Expression
	Version    uint64
	Total      int
	Pending    bool
	Viewport   viewport.State
	Phase      viewport.Phase
	Cache      cache.Stats
	InFlight   int
}

// Nav is a viewport navigation action.
type Nav int

const (
	NavLineUp Nav = iota
	NavLineDown
	NavPageUp
	NavPageDown
	NavHome
	NavEnd
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventLog sets the event log receiving session events.
func WithEventLog(events observability.EventLog) Option {
	return func(s *Session) {
		if events != nil {
			s.events = events
		}
	}
}

// WithClock sets the clock used for relative dates and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session owns the cache, loader and viewport of one interactive view
// over a Source. Its methods are safe for concurrent use.
type Session struct {
	src    source.Source
	eval   *filter.Evaluator
	cache  *cache.ResultCache
	loader *cache.Loader
	logger *slog.Logger
	events observability.EventLog
	now    func() time.Time

	mu           sync.Mutex
	vp           *viewport.Manager
	expr         *filter.Expression
	key          cache.Key
	inflight     cache.Key
	ids          []string
	resultVer    uint64
	pending      bool
	pendingSince time.Time
	closed       bool

	changes     chan uint64
	unsubscribe func()

	// beforeEval, when set, runs at the start of every evaluation.
	beforeEval func(ctx context.Context) error
}

// NewSession creates a session over src configured by cfg. The active
// filter starts as the empty expression and nothing is evaluated until
// SetFilter or Refresh is called.
func NewSession(src source.Source, cfg *models.Config, opts ...Option) *Session {
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	s := &Session{
		src:     src,
		logger:  slog.New(slog.DiscardHandler),
		events:  observability.Discard,
		now:     time.Now,
		expr:    filter.MustCompile(""),
		changes: make(chan uint64, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.eval = filter.NewEvaluator(filter.WithClock(s.now))
	s.cache = cache.NewResultCache(
		cache.WithBudget(cfg.Cache.BudgetBytes),
		cache.WithTTL(cfg.Cache.TTL()),
		cache.WithVersionFunc(func() uint64 { return src.Snapshot().Version() }),
		cache.WithClock(s.now),
	)
	s.loader = cache.NewLoader(s.cache,
		cache.WithThreshold(cfg.Eval.BackgroundThreshold()),
		cache.WithLogger(s.logger),
	)
	s.vp = viewport.NewManager(cfg.Viewport.Size, viewport.WithTransitionHook(func(from, to viewport.Phase) {
		s.logger.Debug("viewport: phase", "from", from.String(), "to", to.String())
	}))
	s.unsubscribe = src.Subscribe(s.onDatasetChanged)
	return s
}

// Cache returns the session's result cache.
func (s *Session) Cache() *cache.ResultCache { return s.cache }

// Changes delivers dataset versions as the source publishes them. Only
// the newest pending version is kept; receivers should call Refresh.
func (s *Session) Changes() <-chan uint64 { return s.changes }

func (s *Session) onDatasetChanged(version uint64) {
	cancelled := s.loader.CancelStale(version)
	dropped := s.cache.DropBefore(version)
	s.logger.Debug("dataset changed",
		"version", version,
		"cancelled_flights", cancelled,
		"dropped_entries", dropped,
	)
	s.emit(observability.LevelInfo, observability.EventDatasetChanged, "dataset changed", map[string]any{
		"version":           version,
		"cancelled_flights": cancelled,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.changes <- version:
	default:
		// Replace the unread version with the newer one.
		select {
		case <-s.changes:
		default:
		}
		s.changes <- version
	}
}

// SetFilter compiles text and makes it the active filter. On a
// *filter.ParseError or *filter.ValidationError the previous filter and
// its results stay active and the error is returned.
func (s *Session) SetFilter(ctx context.Context, text string) (Update, error) {
	expr, err := filter.Compile(text)
	if err != nil {
		s.reject(text, "parse", err)
		return Update{}, err
	}
	return s.activate(ctx, expr)
}

// Refresh re-evaluates the active filter against the current snapshot.
func (s *Session) Refresh(ctx context.Context) (Update, error) {
	s.mu.Lock()
	expr := s.expr
	s.mu.Unlock()
	return s.activate(ctx, expr)
}

func (s *Session) activate(ctx context.Context, expr *filter.Expression) (Update, error) {
	prog, err := s.eval.Bind(expr)
	if err != nil {
		s.reject(expr.Source(), "validation", err)
		return Update{}, err
	}

	ds := s.src.Snapshot()
	key := cache.Key{Version: ds.Version(), Fingerprint: expr.Fingerprint()}

	s.mu.Lock()
	s.inflight = key
	s.vp.BeginRefilter()
	s.mu.Unlock()

	started := time.Now()
	out, err := s.loader.Request(ctx, key, s.compute(prog, ds))
	if err != nil {
		s.abandon(key)
		if errors.Is(err, cache.ErrDiscarded) {
			s.emit(observability.LevelInfo, observability.EventEvalDiscarded, "evaluation discarded", keyData(key))
			return Update{Expression: expr, Key: key}, ErrSuperseded
		}
		if ctx.Err() != nil {
			return Update{Expression: expr, Key: key}, err
		}
		return Update{Expression: expr, Key: key}, fmt.Errorf("evaluating filter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != key {
		return Update{Expression: expr, Key: key}, ErrSuperseded
	}
	s.inflight = cache.Key{}
	s.expr, s.key = expr, key
	s.loader.CancelExcept(key)

	upd := Update{Expression: expr, Key: key, Hit: out.Hit, Pending: out.Pending, Ready: out.Ready}
	if out.Pending {
		s.ids = out.Previous
		s.resultVer = 0
		s.pending = true
		s.pendingSince = started
		s.vp.SetTotal(len(out.Previous))
		upd.Total = len(out.Previous)
	} else {
		s.installLocked(key, out.IDs)
		upd.Total = len(out.IDs)
		if !out.Hit {
			s.emitCompleted(key, len(out.IDs), time.Since(started), false)
		}
	}
	upd.Viewport = s.vp.State()

	s.emit(observability.LevelInfo, observability.EventFilterApplied, "filter applied", map[string]any{
		"canonical":   expr.Canonical(),
		"fingerprint": key.Fingerprint,
		"version":     key.Version,
		"hit":         out.Hit,
		"pending":     out.Pending,
		"results":     upd.Total,
	})
	return upd, nil
}

// abandon drops the refilter for key after its evaluation failed. The
// active expression and its results are left as they were.
func (s *Session) abandon(key cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != key {
		return
	}
	s.inflight = cache.Key{}
	if !s.pending {
		s.vp.EndRefilter()
	}
}

func (s *Session) compute(prog *filter.Program, ds *models.Dataset) cache.ComputeFunc {
	return func(ctx context.Context) ([]string, error) {
		if s.beforeEval != nil {
			if err := s.beforeEval(ctx); err != nil {
				return nil, err
			}
		}
		return prog.Run(ctx, ds)
	}
}

func (s *Session) installLocked(key cache.Key, ids []string) {
	s.ids = ids
	s.resultVer = key.Version
	s.pending = false
	s.vp.OnResultsChanged(len(ids))
}

// Apply installs a background result. It returns false when c belongs to
// a filter or dataset version that is no longer active, or carries an
// error.
func (s *Session) Apply(c cache.Completion) bool {
	if c.Err != nil {
		if c.Discarded() {
			s.emit(observability.LevelInfo, observability.EventEvalDiscarded, "evaluation discarded", keyData(c.Key))
		} else {
			s.logger.Warn("background evaluation failed", "key", c.Key.String(), "error", c.Err.Error())
		}
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Key != s.key || !s.pending {
		return false
	}
	if c.Key.Version != s.src.Snapshot().Version() {
		return false
	}
	s.installLocked(c.Key, c.IDs)
	s.emitCompleted(c.Key, len(c.IDs), time.Since(s.pendingSince), true)
	return true
}

// Evaluate runs text against the current snapshot through the cache
// without changing the active filter. It waits for the result.
func (s *Session) Evaluate(ctx context.Context, text string) (Result, error) {
	expr, err := filter.Compile(text)
	if err != nil {
		return Result{}, err
	}
	prog, err := s.eval.Bind(expr)
	if err != nil {
		return Result{}, err
	}
	ds := s.src.Snapshot()
	key := cache.Key{Version: ds.Version(), Fingerprint: expr.Fingerprint()}
	ids, err := s.loader.GetOrCompute(ctx, key, s.compute(prog, ds))
	if err != nil {
		return Result{Expression: expr, Key: key}, err
	}
	return Result{Expression: expr, Key: key, IDs: ids}, nil
}

// Lookup resolves a record in the current snapshot.
func (s *Session) Lookup(id string) (models.TaskRecord, bool) {
	return s.src.Snapshot().Lookup(id)
}

// Expression returns the active filter.
func (s *Session) Expression() *filter.Expression {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// IDs returns the ordered ids of the displayed result. While a refresh is
// pending this is the previous result for the same expression, or nil.
func (s *Session) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids
}

// Pending reports whether the active filter is still being evaluated.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Visible returns the records inside the viewport. Records are resolved
// against the current snapshot; ids it no longer holds come back as
// placeholders carrying only the id.
func (s *Session) Visible() []models.TaskRecord {
	ds := s.src.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.VisibleSlice(s.ids, ds.Lookup)
}

// Render passes the visible records and viewport state to r.
func (s *Session) Render(r Renderer) {
	ds := s.src.Snapshot()
	s.mu.Lock()
	visible := s.vp.VisibleSlice(s.ids, ds.Lookup)
	state := s.vp.State()
	s.mu.Unlock()
	r.Render(visible, state)
}

// Viewport returns the viewport state.
func (s *Session) Viewport() viewport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.State()
}

// SetViewportSize sets the number of visible rows.
func (s *Session) SetViewportSize(n int) viewport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.SetViewportSize(n)
}

// ScrollBy moves the viewport by delta rows.
func (s *Session) ScrollBy(delta int) viewport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.ScrollBy(delta)
}

// ScrollTo moves the viewport to offset.
func (s *Session) ScrollTo(offset int) viewport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp.ScrollTo(offset)
}

// Navigate applies a navigation action to the viewport.
func (s *Session) Navigate(n Nav) viewport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch n {
	case NavLineUp:
		return s.vp.LineUp()
	case NavLineDown:
		return s.vp.LineDown()
	case NavPageUp:
		return s.vp.PageUp()
	case NavPageDown:
		return s.vp.PageDown()
	case NavHome:
		return s.vp.Home()
	case NavEnd:
		return s.vp.End()
	default:
		return s.vp.State()
	}
}

// Status returns a snapshot for status lines.
func (s *Session) Status() Status {
	stats := s.cache.Stats()
	inFlight := s.loader.InFlight()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Expression: s.expr,
		Version:    s.resultVer,
		Total:      len(s.ids),
		Pending:    s.pending,
		Viewport:   s.vp.State(),
		Phase:      s.vp.Phase(),
		Cache:      stats,
		InFlight:   inFlight,
	}
}

// Close cancels running evaluations and stops following the source.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.changes)
	s.mu.Unlock()

	s.unsubscribe()
	s.loader.CancelExcept(cache.Key{})
}

func (s *Session) reject(text, kind string, err error) {
	s.logger.Debug("filter rejected", "kind", kind, "error", err.Error())
	data := map[string]any{"text": text, "kind": kind, "error": err.Error()}
	var pe *filter.ParseError
	if errors.As(err, &pe) {
		data["offset"] = pe.Offset
	}
	s.emit(observability.LevelWarn, observability.EventFilterRejected, "filter rejected", data)
}

func (s *Session) emitCompleted(key cache.Key, results int, d time.Duration, background bool) {
	data := keyData(key)
	data["results"] = results
	data["duration_ms"] = float64(d.Microseconds()) / 1000
	data["background"] = background
	s.emit(observability.LevelInfo, observability.EventEvalCompleted, "evaluation completed", data)
}

func (s *Session) emit(level, typ, msg string, data map[string]any) {
	err := s.events.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   level,
		Type:    typ,
		Message: msg,
		Data:    data,
	})
	if err != nil {
		s.logger.Warn("event log write failed", "type", typ, "error", err.Error())
	}
}

func keyData(key cache.Key) map[string]any {
	return map[string]any{"fingerprint": key.Fingerprint, "version": key.Version}
}
