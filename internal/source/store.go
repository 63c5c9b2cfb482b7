package source

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// Source supplies dataset snapshots and announces new versions.
type Source interface {
	// Snapshot returns the current dataset. It never blocks on writers.
	Snapshot() *models.Dataset

	// Subscribe registers fn to be called with every new version. The
	// returned function removes the subscription.
	Subscribe(fn func(version uint64)) (cancel func())
}

// Store is an in-memory copy-on-write dataset holder. Readers load the
// current snapshot with a single atomic read; writers are serialized and
// publish a new snapshot with a strictly higher version.
type Store struct {
	current atomic.Pointer[models.Dataset]
	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(uint64)
	nextSub int
}

// NewStore creates a store whose first snapshot holds records at version 1.
func NewStore(records []models.TaskRecord) *Store {
	s := &Store{subs: make(map[int]func(uint64))}
	s.current.Store(models.NewDataset(1, normalize(records)))
	return s
}

func normalize(records []models.TaskRecord) []models.TaskRecord {
	out := make([]models.TaskRecord, len(records))
	for i, r := range records {
		out[i] = models.NewTaskRecord(r)
	}
	return out
}

// Snapshot returns the current dataset.
func (s *Store) Snapshot() *models.Dataset {
	return s.current.Load()
}

// Version returns the current dataset version.
func (s *Store) Version() uint64 {
	return s.current.Load().Version()
}

// Replace swaps in a dataset built from records and returns its version.
// The version increases even when the content is unchanged.
func (s *Store) Replace(records []models.TaskRecord) uint64 {
	recs := normalize(records)
	return s.update(func([]models.TaskRecord) []models.TaskRecord { return recs })
}

// Upsert replaces records with matching IDs in place and appends new ones.
func (s *Store) Upsert(records ...models.TaskRecord) uint64 {
	recs := normalize(records)
	return s.update(func(cur []models.TaskRecord) []models.TaskRecord {
		out := slices.Clone(cur)
		pos := make(map[string]int, len(out))
		for i, r := range out {
			pos[r.ID] = i
		}
		for _, r := range recs {
			if i, ok := pos[r.ID]; ok {
				out[i] = r
				continue
			}
			pos[r.ID] = len(out)
			out = append(out, r)
		}
		return out
	})
}

// Remove deletes the records with the given IDs.
func (s *Store) Remove(ids ...string) uint64 {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return s.update(func(cur []models.TaskRecord) []models.TaskRecord {
		return slices.DeleteFunc(slices.Clone(cur), func(r models.TaskRecord) bool {
			_, ok := drop[r.ID]
			return ok
		})
	})
}

func (s *Store) update(fn func(cur []models.TaskRecord) []models.TaskRecord) uint64 {
	s.writeMu.Lock()
	prev := s.current.Load()
	next := models.NewDataset(prev.Version()+1, fn(prev.Records()))
	s.current.Store(next)
	s.writeMu.Unlock()

	s.notify(next.Version())
	return next.Version()
}

// Subscribe registers fn for version notifications. Callbacks run on the
// writer's goroutine after the new snapshot is visible.
func (s *Store) Subscribe(fn func(version uint64)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(version uint64) {
	s.subMu.Lock()
	fns := make([]func(uint64), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(version)
	}
}
