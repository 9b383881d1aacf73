package apmz

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.NotEmpty(t, cfg.ServiceName)
	assert.Equal(t, 500, cfg.TransactionMaxSpans)
	assert.Equal(t, 1.0, cfg.TransactionSampleRate)
	assert.Equal(t, 5*time.Millisecond, cfg.SpanFramesMinDuration)
	assert.Equal(t, 50, cfg.StackTraceLimit)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
service_name: checkout
service_version: 1.4.2
environment: staging
transaction_max_spans: -1
transaction_sample_rate: 0.25
span_frames_min_duration: 20ms
default_labels:
  region: eu-west-1
  canary: true
`)

	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.ServiceName)
	assert.Equal(t, "1.4.2", cfg.ServiceVersion)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, -1, cfg.TransactionMaxSpans)
	assert.Equal(t, 0.25, cfg.TransactionSampleRate)
	assert.Equal(t, 20*time.Millisecond, cfg.SpanFramesMinDuration)
	assert.Equal(t, "eu-west-1", cfg.DefaultLabels["region"])
	assert.Equal(t, true, cfg.DefaultLabels["canary"])

	// Unset keys keep their defaults.
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50, cfg.StackTraceLimit)
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "service_name: [unterminated"},
		{"sample rate above one", "transaction_sample_rate: 1.5"},
		{"negative sample rate", "transaction_sample_rate: -0.1"},
		{"empty service name", `service_name: ""`},
		{"negative stack limit", "stack_trace_limit: -1"},
		{"zero buffer", "collector_buffer_size: 0"},
		{"zero frame cache", "frame_cache_size: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apmz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service_name: billing\nenabled: false\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "billing", cfg.ServiceName)
	assert.False(t, cfg.Enabled)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
