// Package core loads and validates taskview configuration.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// ConfigFileName is the name of the configuration file looked up in the
// base path, with or without a .yaml extension.
const ConfigFileName = ".taskviewrc"

// EnvPrefix prefixes environment overrides, e.g. TASKVIEW_CACHE_TTL_SECONDS.
const EnvPrefix = "TASKVIEW"

// ConfigurationManager loads the typed configuration of a base path.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
}

type viperConfigManager struct {
	// basePath is the directory holding .taskviewrc. Relative paths in the
	// file are resolved against it.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager rooted at basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

func (cm *viperConfigManager) newViper() *viper.Viper {
	def := models.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if exact := filepath.Join(cm.basePath, ConfigFileName); fileExists(exact) {
		v.SetConfigFile(exact)
	} else {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(cm.basePath)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("source.kind", def.Source.Kind)
	v.SetDefault("source.path", def.Source.Path)
	v.SetDefault("source.watch", def.Source.Watch)
	v.SetDefault("cache.budget_bytes", def.Cache.BudgetBytes)
	v.SetDefault("cache.ttl_seconds", def.Cache.TTLSeconds)
	v.SetDefault("viewport.size", def.Viewport.Size)
	v.SetDefault("eval.background_threshold_ms", def.Eval.BackgroundThresholdMs)
	v.SetDefault("log.level", def.Log.Level.String())
	v.SetDefault("log.path", def.Log.Path)
	v.SetDefault("metrics.listen", def.Metrics.Listen)
	return v
}

// Load reads .taskviewrc from the base path, applies TASKVIEW_* environment
// overrides and validates the result. A missing file yields the defaults.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	v := cm.newViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.Config{
		Source: models.SourceConfig{
			Kind:  strings.ToLower(v.GetString("source.kind")),
			Path:  cm.resolve(v.GetString("source.path")),
			Watch: v.GetBool("source.watch"),
		},
		Cache: models.CacheConfig{
			BudgetBytes: v.GetInt64("cache.budget_bytes"),
			TTLSeconds:  v.GetInt("cache.ttl_seconds"),
		},
		Viewport: models.ViewportConfig{Size: v.GetInt("viewport.size")},
		Eval:     models.EvalConfig{BackgroundThresholdMs: v.GetInt("eval.background_threshold_ms")},
		Log:      models.LogConfig{Path: cm.resolve(v.GetString("log.path"))},
		Metrics:  models.MetricsConfig{Listen: v.GetString("metrics.listen")},
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	cfg.Log.Level = level

	if err := cm.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig reports the first invalid group in cfg.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func (cm *viperConfigManager) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cm.basePath, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
