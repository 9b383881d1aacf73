package apmz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and LoadConfig.
var ErrInvalidConfig = errors.New("invalid config")

// Config controls sampling, span governance and metadata.
type Config struct {
	DefaultLabels map[string]any `yaml:"default_labels"`

	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// TransactionMaxSpans caps recorded spans per transaction.
	// Negative means unlimited.
	TransactionMaxSpans int `yaml:"transaction_max_spans"`

	// TransactionSampleRate is the probability a new trace is recorded.
	TransactionSampleRate float64 `yaml:"transaction_sample_rate"`

	// SpanFramesMinDuration is the minimum span duration that keeps a
	// stacktrace. Negative always captures, zero disables capture.
	SpanFramesMinDuration time.Duration `yaml:"span_frames_min_duration"`

	StackTraceLimit     int   `yaml:"stack_trace_limit"`
	CollectorBufferSize int   `yaml:"collector_buffer_size"`
	FrameCacheSize      int64 `yaml:"frame_cache_size"`

	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:               true,
		ServiceName:           filepath.Base(os.Args[0]),
		TransactionMaxSpans:   500,
		TransactionSampleRate: 1.0,
		SpanFramesMinDuration: 5 * time.Millisecond,
		StackTraceLimit:       50,
		CollectorBufferSize:   1024,
		FrameCacheSize:        4096,
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalidConfig)
	}
	if c.TransactionSampleRate < 0 || c.TransactionSampleRate > 1 {
		return fmt.Errorf("%w: transaction_sample_rate must be between 0 and 1, got %v", ErrInvalidConfig, c.TransactionSampleRate)
	}
	if c.StackTraceLimit < 0 {
		return fmt.Errorf("%w: stack_trace_limit must be >= 0", ErrInvalidConfig)
	}
	if c.CollectorBufferSize <= 0 {
		return fmt.Errorf("%w: collector_buffer_size must be > 0", ErrInvalidConfig)
	}
	if c.FrameCacheSize <= 0 {
		return fmt.Errorf("%w: frame_cache_size must be > 0", ErrInvalidConfig)
	}
	return nil
}
