package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.RestoreOnClose)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadInterval())
	assert.Equal(t, 4096, cfg.ReadLength)
	assert.Equal(t, MultiplexerScreen, cfg.Multiplexer)
	assert.NoError(t, cfg.Validate())
}

func TestValidateReadLength(t *testing.T) {
	assert.NoError(t, ValidateReadLength(1024))
	assert.NoError(t, ValidateReadLength(65536))

	err := ValidateReadLength(1023)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadLengthTooSmall))

	assert.ErrorIs(t, ValidateReadLength(0), ErrReadLengthTooSmall)
	assert.ErrorIs(t, ValidateReadLength(-4096), ErrReadLengthTooSmall)
}

func TestValidateReadInterval(t *testing.T) {
	assert.NoError(t, ValidateReadInterval(time.Millisecond))
	assert.ErrorIs(t, ValidateReadInterval(0), ErrInvalidReadInterval)
	assert.ErrorIs(t, ValidateReadInterval(-time.Second), ErrInvalidReadInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"tmux", func(c *Config) { c.Multiplexer = MultiplexerTmux }, nil},
		{"short read", func(c *Config) { c.ReadLength = 512 }, ErrReadLengthTooSmall},
		{"zero interval", func(c *Config) { c.ReadIntervalMs = 0 }, ErrInvalidReadInterval},
		{"unknown mux", func(c *Config) { c.Multiplexer = "zellij" }, ErrUnknownMultiplexer},
		{"negative cap", func(c *Config) { c.MaxBufferBytes = -1 }, ErrNegativeBufferCap},
		{"zero export interval", func(c *Config) { c.Telemetry.ExportIntervalMs = 0 }, ErrInvalidExport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
restore_on_close = false
read_interval_ms = 250
read_length = 8192
multiplexer = "tmux"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	t.Setenv("MUXSH_READ_LENGTH", "2048")
	t.Setenv("MUXSH_LOG_LEVEL", "info")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.RestoreOnClose)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadInterval())
	assert.Equal(t, 2048, cfg.ReadLength, "env overrides file")
	assert.Equal(t, MultiplexerTmux, cfg.Multiplexer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultTransportDir, cfg.TransportDir, "unset keys keep defaults")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("read_length = 100\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrReadLengthTooSmall)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("read_length = [\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.ReadLength = 2048

	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))
	assert.Contains(t, buf.String(), "read_length = 2048")

	var back Config
	_, err := toml.Decode(buf.String(), &back)
	require.NoError(t, err)
	assert.Equal(t, *cfg, back)
}

func TestDefaultPath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/muxsh/config.toml", DefaultPath())
}

func TestLoad_TelemetryFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[telemetry]
logs_url = "http://collector:4318/v1/logs"
export_interval_ms = 5000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	t.Setenv("MUXSH_OTEL_METRICS_URL", "http://collector:4318/v1/metrics")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.Enabled())
	assert.Equal(t, "http://collector:4318/v1/metrics", cfg.Telemetry.MetricsURL)
	assert.Equal(t, "http://collector:4318/v1/logs", cfg.Telemetry.LogsURL)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.ExportInterval())
	assert.False(t, Default().Telemetry.Enabled())
}
