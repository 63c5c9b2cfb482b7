// Package internal provides the App struct that wires the task source, the
// filter session and observability together and initializes the CLI layer.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/taskview/internal/cli"
	"github.com/valter-silva-au/taskview/internal/core"
	"github.com/valter-silva-au/taskview/internal/engine"
	"github.com/valter-silva-au/taskview/internal/observability"
	"github.com/valter-silva-au/taskview/internal/source"
	"github.com/valter-silva-au/taskview/pkg/models"
)

// HomeEnv overrides the base path lookup.
const HomeEnv = "TASKVIEW_HOME"

// eventLogName is the session event log inside the base path.
const eventLogName = ".taskview_events.jsonl"

// sqlitePollInterval is how often a watched SQLite source checks for
// commits from other connections.
const sqlitePollInterval = 2 * time.Second

// App holds all service dependencies of taskview.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config
	Logger    *slog.Logger

	// Task source and the filter session over it
	Source  source.Source
	Session *engine.Session

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator

	closers []io.Closer
	cancel  context.CancelFunc
	watches chan struct{}
}

// NewApp creates and wires all components of taskview. basePath is the
// directory holding .taskviewrc; relative paths in the configuration are
// resolved against it.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	app.Config = cfg

	// --- Logging ---
	logger, logCloser, err := observability.NewFileLogger(cfg.Log.Path, cfg.Log.Level)
	if err != nil {
		// Non-fatal: run without a diagnostic log.
		logger = slog.New(slog.DiscardHandler)
	} else {
		app.closers = append(app.closers, logCloser)
	}
	app.Logger = logger

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, eventLogName))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		logger.Warn("event log disabled", "error", err.Error())
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.DefaultAlertThresholds())
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}

	// --- Task source ---
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.watches = make(chan struct{})
	watch, err := app.openSource(ctx)
	if err != nil {
		cancel()
		_ = app.closeAll()
		return nil, err
	}

	// --- Filter session ---
	app.Session = engine.NewSession(app.Source, cfg,
		engine.WithLogger(logger),
		engine.WithEventLog(app.EventLog),
	)

	if watch != nil && cfg.Source.Watch {
		go func() {
			defer close(app.watches)
			if err := watch(ctx); err != nil {
				logger.Error("source watcher failed", "path", cfg.Source.Path, "error", err.Error())
			}
		}()
	} else {
		close(app.watches)
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Logger = logger
	cli.Source = app.Source
	cli.Session = app.Session
	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// openSource opens the configured source and returns the function that
// watches it for changes.
func (a *App) openSource(ctx context.Context) (func(context.Context) error, error) {
	cfg := a.Config.Source
	switch cfg.Kind {
	case models.SourceYAML:
		f, err := source.OpenYAML(cfg.Path, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("opening task file: %w", err)
		}
		a.Source = f
		return f.Watch, nil

	case models.SourceSQLite:
		db, err := source.OpenSQLite(ctx, cfg.Path, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("opening task database: %w", err)
		}
		a.Source = db
		a.closers = append(a.closers, db)
		return func(ctx context.Context) error { return db.Watch(ctx, sqlitePollInterval) }, nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// Close stops the source watcher and releases the session, the database,
// the event log and the log file. It is safe to call Close on an App whose
// EventLog is nil.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
		<-a.watches
	}
	if a.Session != nil {
		a.Session.Close()
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	if a.EventLog != nil {
		errs = append(errs, a.EventLog.Close())
	}
	// Closed in reverse order of opening; the log file goes last.
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ResolveBasePath determines the taskview base directory. It checks the
// TASKVIEW_HOME env var, then walks up from the current directory to find
// .taskviewrc, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	cwd := dir
	for {
		if hasConfig(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}

func hasConfig(dir string) bool {
	for _, name := range []string{core.ConfigFileName, core.ConfigFileName + ".yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
