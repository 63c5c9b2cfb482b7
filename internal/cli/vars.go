package cli

import (
	"log/slog"

	"github.com/valter-silva-au/taskview/internal/engine"
	"github.com/valter-silva-au/taskview/internal/observability"
	"github.com/valter-silva-au/taskview/internal/source"
	"github.com/valter-silva-au/taskview/pkg/models"
)

// Service instances, set during app initialization in app.go.
var (
	BasePath string
	Config   *models.Config
	Logger   *slog.Logger

	Source  source.Source
	Session *engine.Session

	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)

func logger() *slog.Logger {
	if Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return Logger
}

func config() *models.Config {
	if Config == nil {
		return models.DefaultConfig()
	}
	return Config
}
