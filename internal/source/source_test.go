package source

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/taskview/pkg/models"
)

var testBase = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

func rec(id string, status models.TaskStatus) models.TaskRecord {
	return models.TaskRecord{ID: id, Status: status, Description: "task " + id}
}

// --- Store ---

func TestStore_VersionStrictlyIncreases(t *testing.T) {
	s := NewStore([]models.TaskRecord{rec("a", models.StatusPending)})
	assert.Equal(t, uint64(1), s.Version())

	v2 := s.Replace([]models.TaskRecord{rec("a", models.StatusPending)})
	assert.Equal(t, uint64(2), v2, "identical content still bumps the version")

	v3 := s.Upsert(rec("b", models.StatusWaiting))
	v4 := s.Remove("a")
	assert.Less(t, v2, v3)
	assert.Less(t, v3, v4)

	snap := s.Snapshot()
	assert.Equal(t, v4, snap.Version())
	assert.Equal(t, 1, snap.Len())
	_, ok := snap.Lookup("a")
	assert.False(t, ok)
}

func TestStore_SnapshotsAreImmutable(t *testing.T) {
	s := NewStore([]models.TaskRecord{rec("a", models.StatusPending), rec("b", models.StatusPending)})
	before := s.Snapshot()

	s.Upsert(rec("a", models.StatusCompleted), rec("c", models.StatusPending))

	r, ok := before.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, r.Status, "old snapshot is unchanged")
	assert.Equal(t, 2, before.Len())

	after := s.Snapshot()
	r, _ = after.Lookup("a")
	assert.Equal(t, models.StatusCompleted, r.Status)
	assert.Equal(t, "a", after.At(0).ID, "upsert keeps position")
	assert.Equal(t, "c", after.At(2).ID)
}

func TestStore_SubscribeAndCancel(t *testing.T) {
	s := NewStore(nil)
	var got []uint64
	cancel := s.Subscribe(func(v uint64) { got = append(got, v) })

	s.Replace(nil)
	s.Replace(nil)
	cancel()
	s.Replace(nil)

	assert.Equal(t, []uint64{2, 3}, got)
}

func TestStore_ConcurrentWritersAndReaders(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	var lastSeen atomic.Uint64

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Upsert(rec(string(rune('a'+w)), models.StatusPending))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := s.Snapshot().Version()
				for {
					prev := lastSeen.Load()
					if v <= prev || lastSeen.CompareAndSwap(prev, v) {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1+4*50), s.Version())
	assert.Equal(t, 4, s.Snapshot().Len())
}

// --- YAML file ---

func TestSave_ConcurrentWritersLeaveWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, Save(path, Synthetic(20+i, uint64(i), testBase)))
		}()
	}
	wg.Wait()

	recs, err := readTaskFile(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(recs), 20)

	// Only the task file and its lock remain.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"tasks.yaml", "tasks.yaml.lock"}, names)
}

func TestLockFile_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	unlock, err := lockFile(path)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := lockFile(path)
		if err == nil {
			_ = second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, unlock())
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock not acquired after release")
	}
}


func TestYAMLFile_SaveAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	due := testBase.Add(48 * time.Hour)
	recs := []models.TaskRecord{
		{ID: "1", Status: models.StatusPending, Project: "work", Priority: models.PriorityHigh, Tags: []string{"b", "a"}, Urgency: 4.5, Due: &due, Description: "first"},
		{ID: "2", Status: models.StatusCompleted, Description: "second", Raw: map[string]any{"uuid": "x"}},
	}
	require.NoError(t, Save(path, recs))

	f, err := OpenYAML(path, nil)
	require.NoError(t, err)
	snap := f.Snapshot()
	require.Equal(t, 2, snap.Len())

	first, _ := snap.Lookup("1")
	assert.Equal(t, []string{"a", "b"}, first.Tags)
	assert.Equal(t, models.PriorityHigh, first.Priority)
	require.NotNil(t, first.Due)
	assert.True(t, first.Due.Equal(due))

	second, _ := snap.Lookup("2")
	assert.Nil(t, second.Due)
	assert.Equal(t, "x", second.Raw["uuid"])
}

func TestYAMLFile_MissingFileIsEmpty(t *testing.T) {
	f, err := OpenYAML(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Snapshot().Len())
}

func TestYAMLFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: [unclosed"), 0o600))
	_, err := OpenYAML(path, nil)
	assert.Error(t, err)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestYAMLFile_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, Save(path, nil))

	f, err := OpenYAML(path, nil)
	require.NoError(t, err)

	var notified atomic.Uint64
	f.Subscribe(func(v uint64) { notified.Store(v) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Watch(ctx) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, Save(path, []models.TaskRecord{rec("new", models.StatusPending)}))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := f.Snapshot().Lookup("new")
		return ok
	}, "watcher did not reload the file")
	assert.GreaterOrEqual(t, notified.Load(), uint64(2))
}

// --- SQLite ---

func TestSQLite_InsertAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	db, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, db.Snapshot().Len())

	recs := Synthetic(25, 7, testBase)
	v, err := db.Insert(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	require.NoError(t, db.Close())

	db, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer db.Close()

	snap := db.Snapshot()
	require.Equal(t, len(recs), snap.Len())
	for i, want := range recs {
		got := *snap.At(i)
		assert.Equal(t, want.ID, got.ID, "insertion order is preserved")
		assert.Equal(t, want.Tags, got.Tags)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.Raw["uuid"], got.Raw["uuid"])
		if want.Due == nil {
			assert.Nil(t, got.Due)
		} else {
			require.NotNil(t, got.Due)
			assert.True(t, want.Due.Equal(*got.Due))
		}
	}
}

func TestSQLite_InsertUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "tasks.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Insert(ctx, []models.TaskRecord{
		rec("a", models.StatusPending),
		rec("b", models.StatusPending),
		rec("c", models.StatusPending),
	})
	require.NoError(t, err)

	_, err = db.Insert(ctx, []models.TaskRecord{
		rec("d", models.StatusPending),
		rec("a", models.StatusCompleted),
	})
	require.NoError(t, err)

	snap := db.Snapshot()
	require.Equal(t, 4, snap.Len())
	var ids []string
	for i := 0; i < snap.Len(); i++ {
		ids = append(ids, snap.At(i).ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids, "updated rows keep their position")
	assert.Equal(t, models.StatusCompleted, snap.At(0).Status)
}

func TestSQLite_WatchSeesOtherConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "tasks.db")

	reader, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer reader.Close()
	go reader.Watch(ctx, 20*time.Millisecond) //nolint:errcheck

	writer, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer writer.Close()

	time.Sleep(50 * time.Millisecond)
	_, err = writer.Insert(ctx, []models.TaskRecord{rec("w1", models.StatusPending)})
	require.NoError(t, err)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		_, ok := reader.Snapshot().Lookup("w1")
		return ok
	}, "reader did not pick up the row written by another connection")
}

// --- Synthetic ---

func TestSynthetic_Deterministic(t *testing.T) {
	a := Synthetic(200, 42, testBase)
	b := Synthetic(200, 42, testBase)
	c := Synthetic(200, 43, testBase)

	require.Len(t, a, 200)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	seen := map[string]bool{}
	for _, r := range a {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
		assert.Len(t, r.Raw["uuid"], 36)
	}
}
