package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 100 * time.Millisecond

// TaskFile is the top-level structure of a tasks.yaml file.
type TaskFile struct {
	Version string              `yaml:"version"`
	Tasks   []models.TaskRecord `yaml:"tasks"`
}

// YAMLFile is a Source backed by a YAML task file.
type YAMLFile struct {
	*Store
	path   string
	logger *slog.Logger
}

// OpenYAML loads path into a new YAMLFile. A missing file yields an empty
// dataset.
func OpenYAML(path string, logger *slog.Logger) (*YAMLFile, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recs, err := readTaskFile(path)
	if err != nil {
		return nil, err
	}
	return &YAMLFile{Store: NewStore(recs), path: path, logger: logger}, nil
}

// Path returns the file path.
func (f *YAMLFile) Path() string { return f.path }

func readTaskFile(path string) ([]models.TaskRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tf.Tasks, nil
}

// Reload re-reads the file and publishes a new snapshot.
func (f *YAMLFile) Reload() (uint64, error) {
	recs, err := readTaskFile(f.path)
	if err != nil {
		return 0, err
	}
	return f.Replace(recs), nil
}

// Save writes records to path in the TaskFile format. The file is
// replaced by rename, so watchers never read a partial file.
func Save(path string, records []models.TaskRecord) error {
	tf := TaskFile{Version: "1.0", Tasks: records}
	data, err := yaml.Marshal(&tf)
	if err != nil {
		return fmt.Errorf("marshalling tasks: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Watch reloads the file whenever it changes on disk until ctx is
// cancelled. The parent directory is watched so that editors which
// replace the file by renaming are handled.
func (f *YAMLFile) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	name := filepath.Base(f.path)

	f.logger.Info("watcher: started", slog.String("path", f.path))

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(reloadDebounce)
			debounceCh = debounce.C
		} else {
			debounce.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			f.logger.Info("watcher: stopped", slog.String("path", f.path))
			return nil

		case <-debounceCh:
			version, err := f.Reload()
			if err != nil {
				f.logger.Warn("watcher: reload failed", slog.String("path", f.path), slog.String("error", err.Error()))
				continue
			}
			f.logger.Debug("watcher: reloaded", slog.String("path", f.path), slog.Uint64("version", version))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
