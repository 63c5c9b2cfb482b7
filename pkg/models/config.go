package models

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Source kinds.
const (
	SourceYAML   = "yaml"
	SourceSQLite = "sqlite"
)

// Defaults for the filter engine.
const (
	DefaultCacheBudgetBytes          = 50 << 20
	DefaultCacheTTLSeconds           = 300
	DefaultViewportSize              = 20
	DefaultBackgroundEvalThresholdMs = 50
)

// Config holds the typed settings read from .taskviewrc via Viper.
type Config struct {
	Source   SourceConfig   `yaml:"source" json:"source" mapstructure:"source"`
	Cache    CacheConfig    `yaml:"cache" json:"cache" mapstructure:"cache"`
	Viewport ViewportConfig `yaml:"viewport" json:"viewport" mapstructure:"viewport"`
	Eval     EvalConfig     `yaml:"eval" json:"eval" mapstructure:"eval"`
	Log      LogConfig      `yaml:"log" json:"log" mapstructure:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

// SourceConfig selects where task records are read from.
type SourceConfig struct {
	Kind  string `yaml:"kind" json:"kind" mapstructure:"kind"`
	Path  string `yaml:"path" json:"path" mapstructure:"path"`
	Watch bool   `yaml:"watch" json:"watch" mapstructure:"watch"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	BudgetBytes int64 `yaml:"budget_bytes" json:"budget_bytes" mapstructure:"budget_bytes"`
	TTLSeconds  int   `yaml:"ttl_seconds" json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the entry time-to-live as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ViewportConfig holds the initial visible row count.
type ViewportConfig struct {
	Size int `yaml:"size" json:"size" mapstructure:"size"`
}

// EvalConfig controls when evaluation leaves the interactive path.
type EvalConfig struct {
	BackgroundThresholdMs int `yaml:"background_threshold_ms" json:"background_threshold_ms" mapstructure:"background_threshold_ms"`
}

// BackgroundThreshold returns the threshold as a duration.
func (c EvalConfig) BackgroundThreshold() time.Duration {
	return time.Duration(c.BackgroundThresholdMs) * time.Millisecond
}

// LogConfig configures the diagnostic slog logger.
type LogConfig struct {
	Level slog.Level `yaml:"level" json:"level" mapstructure:"level"`
	Path  string     `yaml:"path" json:"path" mapstructure:"path"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen" mapstructure:"listen"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:  SourceYAML,
			Path:  "tasks.yaml",
			Watch: true,
		},
		Cache: CacheConfig{
			BudgetBytes: DefaultCacheBudgetBytes,
			TTLSeconds:  DefaultCacheTTLSeconds,
		},
		Viewport: ViewportConfig{Size: DefaultViewportSize},
		Eval:     EvalConfig{BackgroundThresholdMs: DefaultBackgroundEvalThresholdMs},
		Log: LogConfig{
			Level: slog.LevelInfo,
			Path:  ".taskview.log",
		},
	}
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Viewport.Validate(); err != nil {
		return err
	}
	return c.Eval.Validate()
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(SourceYAML, SourceSQLite)),
		validation.Field(&c.Path, validation.Required),
	)
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BudgetBytes, validation.Required, validation.Min(int64(1024))),
		validation.Field(&c.TTLSeconds, validation.Required, validation.Min(1)),
	)
}

// Validate validates the viewport configuration.
func (c *ViewportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Size, validation.Required, validation.Min(1), validation.Max(10000)),
	)
}

// Validate validates the evaluation configuration. Zero disables
// background dispatch.
func (c *EvalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BackgroundThresholdMs, validation.Min(0)),
	)
}
