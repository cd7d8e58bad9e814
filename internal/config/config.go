// Package config provides configuration loading for muxsh sessions.
//
// Values are layered: built-in defaults, then the TOML config file, then
// MUXSH_* environment variables, then command-line flags. Validate rejects
// out-of-range values; nothing is silently clamped.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix prefixes every environment override (MUXSH_READ_LENGTH, ...).
	EnvPrefix = "MUXSH"

	// DefaultReadInterval is the poll period of the stream reader.
	DefaultReadInterval = 100 * time.Millisecond

	// DefaultReadLength is the maximum number of bytes read per poll.
	DefaultReadLength = 4096

	// MinReadLength is the smallest accepted read length.
	MinReadLength = 1024

	// DefaultEmulator embeds an xterm into the surface window.
	DefaultEmulator = "xterm -into {window} -geometry 1000x1000 -e"

	// DefaultExportInterval is how often metrics are pushed when telemetry
	// is enabled.
	DefaultExportInterval = 15 * time.Second

	// DefaultTransportDir holds the session fifo and lock files.
	DefaultTransportDir = "/tmp"

	MultiplexerScreen = "screen"
	MultiplexerTmux   = "tmux"
)

// Configuration errors.
var (
	ErrReadLengthTooSmall  = fmt.Errorf("read length smaller than %d bytes", MinReadLength)
	ErrInvalidReadInterval = errors.New("read interval must be positive")
	ErrUnknownMultiplexer  = errors.New("unknown multiplexer")
	ErrNegativeBufferCap   = errors.New("max buffer bytes must not be negative")
	ErrInvalidExport       = errors.New("telemetry export interval must be positive")
)

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level" envconfig:"LEVEL"`
	Development bool   `toml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig configures OTLP export. Telemetry is off while both URLs
// are empty; each signal is exported only when its own URL is set.
type TelemetryConfig struct {
	MetricsURL       string `toml:"metrics_url" envconfig:"METRICS_URL"`
	LogsURL          string `toml:"logs_url" envconfig:"LOGS_URL"`
	ExportIntervalMs int    `toml:"export_interval_ms" envconfig:"EXPORT_INTERVAL_MS"`
}

// Enabled reports whether any signal has an endpoint.
func (t TelemetryConfig) Enabled() bool {
	return t.MetricsURL != "" || t.LogsURL != ""
}

// ExportInterval returns ExportIntervalMs as a duration.
func (t TelemetryConfig) ExportInterval() time.Duration {
	return time.Duration(t.ExportIntervalMs) * time.Millisecond
}

// Config is the effective muxsh configuration.
type Config struct {
	// RestoreOnClose restarts the session when the shell exits unexpectedly.
	RestoreOnClose bool `toml:"restore_on_close" envconfig:"RESTORE_ON_CLOSE"`

	// ReadIntervalMs is the poll period in milliseconds.
	ReadIntervalMs int `toml:"read_interval_ms" envconfig:"READ_INTERVAL_MS"`

	// ReadLength is the maximum number of bytes read per poll.
	ReadLength int `toml:"read_length" envconfig:"READ_LENGTH"`

	// Multiplexer selects the backing session manager: "screen" or "tmux".
	Multiplexer string `toml:"multiplexer" envconfig:"MULTIPLEXER"`

	// Emulator is the command prefix used when the surface has a window.
	// "{window}" is replaced by the window id.
	Emulator string `toml:"emulator" envconfig:"EMULATOR"`

	// TransportDir is where the fifo and lock files live.
	TransportDir string `toml:"transport_dir" envconfig:"TRANSPORT_DIR"`

	// MaxBufferBytes caps the carried-over read buffer. 0 means unbounded.
	MaxBufferBytes int `toml:"max_buffer_bytes" envconfig:"MAX_BUFFER_BYTES"`

	Log LogConfig `toml:"log"`

	// Telemetry is read from MUXSH_OTEL_* in the environment.
	Telemetry TelemetryConfig `toml:"telemetry" envconfig:"OTEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RestoreOnClose: true,
		ReadIntervalMs: int(DefaultReadInterval / time.Millisecond),
		ReadLength:     DefaultReadLength,
		Multiplexer:    MultiplexerScreen,
		Emulator:       DefaultEmulator,
		TransportDir:   DefaultTransportDir,
		Log: LogConfig{
			Level: "warn",
		},
		Telemetry: TelemetryConfig{
			ExportIntervalMs: int(DefaultExportInterval / time.Millisecond),
		},
	}
}

// ReadInterval returns ReadIntervalMs as a duration.
func (c *Config) ReadInterval() time.Duration {
	return time.Duration(c.ReadIntervalMs) * time.Millisecond
}

// Validate checks every option and returns the first violation.
func (c *Config) Validate() error {
	if err := ValidateReadLength(c.ReadLength); err != nil {
		return err
	}
	if err := ValidateReadInterval(c.ReadInterval()); err != nil {
		return err
	}
	switch c.Multiplexer {
	case MultiplexerScreen, MultiplexerTmux:
	default:
		return fmt.Errorf("%w %q (want %q or %q)", ErrUnknownMultiplexer, c.Multiplexer, MultiplexerScreen, MultiplexerTmux)
	}
	if c.MaxBufferBytes < 0 {
		return ErrNegativeBufferCap
	}
	if c.Telemetry.ExportIntervalMs <= 0 {
		return fmt.Errorf("%w: %dms", ErrInvalidExport, c.Telemetry.ExportIntervalMs)
	}
	return nil
}

// ValidateReadLength rejects read lengths below MinReadLength.
func ValidateReadLength(n int) error {
	if n < MinReadLength {
		return fmt.Errorf("%w: %d", ErrReadLengthTooSmall, n)
	}
	return nil
}

// ValidateReadInterval rejects non-positive poll periods.
func ValidateReadInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidReadInterval, d)
	}
	return nil
}

// DefaultPath returns the config file location:
// $XDG_CONFIG_HOME/muxsh/config.toml, else ~/.config/muxsh/config.toml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "muxsh", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "muxsh", "config.toml")
}

// Load builds the configuration from defaults, the file at path and the
// environment. A missing file is not an error. An empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading %s_* environment: %w", EnvPrefix, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the user's own config file
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
