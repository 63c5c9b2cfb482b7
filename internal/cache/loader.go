package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrDiscarded is returned for a computation whose result was dropped
	// because it was cancelled or its dataset version was superseded.
	ErrDiscarded = errors.New("cache: result discarded")

	// ErrPending is reported by Outcome.Err while a background evaluation
	// is still running.
	ErrPending = errors.New("cache: evaluation pending")
)

// ComputeFunc produces the ordered ids for a key. It must honor ctx.
type ComputeFunc func(ctx context.Context) ([]string, error)

// Completion is delivered when a background evaluation finishes.
type Completion struct {
	Key Key
	IDs []string
	Err error
}

// Discarded reports whether the result was dropped.
func (c Completion) Discarded() bool {
	return errors.Is(c.Err, ErrDiscarded)
}

// Outcome is the result of Loader.Request. Exactly one of the following
// holds: IDs is set (Hit reports whether it came from the cache), or
// Pending is true and Ready delivers the eventual Completion while
// Previous holds the newest earlier result for the same expression, if any.
type Outcome struct {
	Key      Key
	IDs      []string
	Hit      bool
	Pending  bool
	Previous []string
	Ready    <-chan Completion
}

// Err returns ErrPending for a pending outcome and nil otherwise.
func (o Outcome) Err() error {
	if o.Pending {
		return ErrPending
	}
	return nil
}

type flight struct {
	key       Key
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	waiters   int // guarded by Loader.mu
}

// Loader resolves keys through a ResultCache, running at most one
// computation per key at a time.
type Loader struct {
	cache     *ResultCache
	group     singleflight.Group
	threshold time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	flights map[Key]*flight
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithThreshold sets how long Request waits before handing a computation
// off to the background. Zero or negative waits for completion.
func WithThreshold(d time.Duration) LoaderOption {
	return func(l *Loader) { l.threshold = d }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader publishing into c.
func NewLoader(c *ResultCache, opts ...LoaderOption) *Loader {
	l := &Loader{
		cache:     c,
		threshold: 50 * time.Millisecond,
		logger:    slog.New(slog.DiscardHandler),
		flights:   make(map[Key]*flight),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cache returns the underlying result cache.
func (l *Loader) Cache() *ResultCache { return l.cache }

// GetOrCompute returns the cached ids for key, or computes, publishes and
// returns them. Concurrent callers for the same key share one computation.
// If the computation is cancelled or its version is superseded before it
// finishes, ErrDiscarded is returned and nothing is cached.
func (l *Loader) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) ([]string, error) {
	if entry, ok := l.cache.Get(ctx, key); ok {
		return entry.IDs, nil
	}

	f, ch := l.start(ctx, key, compute)
	select {
	case res := <-ch:
		l.release(f)
		return resultIDs(res)
	case <-ctx.Done():
		go l.drain(f, ch)
		return nil, ctx.Err()
	}
}

// Request is like GetOrCompute but waits at most the configured threshold.
// If the computation takes longer it keeps running in the background and
// Request returns a pending Outcome.
func (l *Loader) Request(ctx context.Context, key Key, compute ComputeFunc) (Outcome, error) {
	if entry, ok := l.cache.Get(ctx, key); ok {
		return Outcome{Key: key, IDs: entry.IDs, Hit: true}, nil
	}

	f, ch := l.start(ctx, key, compute)

	var timeout <-chan time.Time
	if l.threshold > 0 {
		timer := time.NewTimer(l.threshold)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		l.release(f)
		ids, err := resultIDs(res)
		if err != nil {
			return Outcome{Key: key}, err
		}
		return Outcome{Key: key, IDs: ids}, nil

	case <-timeout:
		ready := make(chan Completion, 1)
		go func() {
			res := <-ch
			l.release(f)
			ids, err := resultIDs(res)
			ready <- Completion{Key: key, IDs: ids, Err: err}
			close(ready)
		}()
		out := Outcome{Key: key, Pending: true, Ready: ready}
		if prev, ok := l.cache.Latest(key.Fingerprint); ok {
			out.Previous = prev.IDs
		}
		l.logger.Debug("evaluation moved to background",
			"key", key.String(),
			"threshold", l.threshold,
			"has_previous", out.Previous != nil,
		)
		return out, nil

	case <-ctx.Done():
		go l.drain(f, ch)
		return Outcome{Key: key}, ctx.Err()
	}
}

// CancelStale cancels every in-flight computation keyed to a version older
// than version. It returns the number of flights cancelled.
func (l *Loader) CancelStale(version uint64) int {
	return l.cancelWhere(func(k Key) bool { return k.Version < version }, "stale")
}

// CancelExcept cancels every in-flight computation other than the one for
// keep. It is used when a newer filter supersedes earlier ones.
func (l *Loader) CancelExcept(keep Key) int {
	return l.cancelWhere(func(k Key) bool { return k != keep }, "superseded")
}

// InFlight returns the number of computations currently running.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.flights)
}

func (l *Loader) cancelWhere(match func(Key) bool, reason string) int {
	l.mu.Lock()
	var victims []*flight
	for k, f := range l.flights {
		if match(k) {
			f.cancelled.Store(true)
			victims = append(victims, f)
			delete(l.flights, k)
		}
	}
	l.mu.Unlock()

	for _, f := range victims {
		f.cancel()
		l.group.Forget(f.key.String())
		recordFlightDiscarded(context.Background(), reason)
		l.logger.Debug("evaluation cancelled", "key", f.key.String(), "reason", reason)
	}
	return len(victims)
}

// start joins the running computation for key or launches a new one.
func (l *Loader) start(ctx context.Context, key Key, compute ComputeFunc) (*flight, <-chan singleflight.Result) {
	l.mu.Lock()
	f, ok := l.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{key: key, ctx: fctx, cancel: cancel}
		l.flights[key] = f
	}
	f.waiters++
	l.mu.Unlock()

	ch := l.group.DoChan(key.String(), func() (any, error) {
		return l.run(f, compute)
	})
	return f, ch
}

func (l *Loader) run(f *flight, compute ComputeFunc) (any, error) {
	recordFlightStarted(f.ctx)
	started := time.Now()

	ids, err := compute(f.ctx)
	if f.cancelled.Load() || f.ctx.Err() != nil {
		return nil, ErrDiscarded
	}
	if err != nil {
		return nil, err
	}
	if !l.cache.IsCurrent(f.key.Version) {
		recordFlightDiscarded(f.ctx, "version")
		l.logger.Debug("evaluation result dropped for superseded version", "key", f.key.String())
		return nil, ErrDiscarded
	}

	// Publishing under l.mu orders it against cancelWhere: once a cancel
	// call returns, no cancelled flight can still reach the cache.
	l.mu.Lock()
	cancelled := f.cancelled.Load()
	stored := false
	if !cancelled {
		stored = l.cache.Put(f.ctx, f.key, ids)
	}
	l.mu.Unlock()
	if cancelled {
		return nil, ErrDiscarded
	}

	l.logger.Debug("evaluation completed",
		"key", f.key.String(),
		"results", len(ids),
		"cached", stored,
		"duration", time.Since(started),
	)
	return ids, nil
}

// release drops one waiter. The last waiter removes f from the flight
// table, so a caller arriving later starts a fresh computation.
func (l *Loader) release(f *flight) {
	l.mu.Lock()
	f.waiters--
	last := f.waiters == 0
	if last && l.flights[f.key] == f {
		delete(l.flights, f.key)
	}
	l.mu.Unlock()
	if last {
		f.cancel()
	}
}

func (l *Loader) drain(f *flight, ch <-chan singleflight.Result) {
	<-ch
	l.release(f)
}

func resultIDs(res singleflight.Result) ([]string, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	ids, _ := res.Val.([]string)
	return ids, nil
}
