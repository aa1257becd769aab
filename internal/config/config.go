// Package config holds runtime settings, logging setup and the PID file path.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ConfigFile is the file the settings were loaded from, if any. The
	// background service watches it for changes.
	ConfigFile string

	Debug bool

	LogFormat  string
	LogFile    string
	LogRotate  bool
	MaxLogSize int // MB
	MaxLogAge  int // days

	Port          int
	KeyDelayMs    int
	StartDelayMs  int
	MaxWindowWalk int

	Hotkey string

	// ExplicitFlags names the command-line flags the user set. Their values
	// win over the config file, including on reload.
	ExplicitFlags map[string]bool
}

// FlagSet reports whether the named flag was set on the command line.
func (c *Config) FlagSet(name string) bool {
	return c.ExplicitFlags[name]
}

const (
	DefaultPort          = 8766
	DefaultHotkey        = "ctrl+alt+v"
	DefaultMaxWindowWalk = 1024
)

var PidFile string

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

func init() {
	PidFile = "win-autotype.pid"
	if tmpDir := os.Getenv("TEMP"); tmpDir != "" {
		PidFile = filepath.Join(tmpDir, "win-autotype.pid")
	}
}

// Validate checks ranges and combinations of settings.
func (c *Config) Validate() error {
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat)
	}

	if c.LogRotate {
		if c.LogFile == "" {
			return errors.New("log rotation requires --log-file")
		}
		if c.MaxLogSize < 1 || c.MaxLogSize > 1000 {
			return fmt.Errorf("max log size must be between 1 and 1000 MB, got %d", c.MaxLogSize)
		}
		if c.MaxLogAge < 1 || c.MaxLogAge > 365 {
			return fmt.Errorf("max log age must be between 1 and 365 days, got %d", c.MaxLogAge)
		}
	}

	if c.Port != 0 && (c.Port < 1024 || c.Port > 65535) {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", c.Port)
	}

	if c.KeyDelayMs < 0 || c.KeyDelayMs > 1000 {
		return fmt.Errorf("key delay must be between 0 and 1000 ms, got %d", c.KeyDelayMs)
	}

	if c.StartDelayMs < 0 || c.StartDelayMs > 60000 {
		return fmt.Errorf("start delay must be between 0 and 60000 ms, got %d", c.StartDelayMs)
	}

	if c.MaxWindowWalk < 0 || c.MaxWindowWalk > 65536 {
		return fmt.Errorf("max window walk must be between 0 and 65536, got %d", c.MaxWindowWalk)
	}

	if c.Hotkey != "" {
		if _, err := ParseHotkey(c.Hotkey); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) KeyDelay() time.Duration {
	return time.Duration(c.KeyDelayMs) * time.Millisecond
}

func (c *Config) StartDelay() time.Duration {
	return time.Duration(c.StartDelayMs) * time.Millisecond
}

// fileConfig is the file form of Config. Absent keys stay nil.
type fileConfig struct {
	Debug         *bool   `toml:"debug" yaml:"debug" json:"debug"`
	LogFormat     *string `toml:"log_format" yaml:"log_format" json:"log_format"`
	LogFile       *string `toml:"log_file" yaml:"log_file" json:"log_file"`
	LogRotate     *bool   `toml:"log_rotate" yaml:"log_rotate" json:"log_rotate"`
	MaxLogSize    *int    `toml:"max_log_size" yaml:"max_log_size" json:"max_log_size"`
	MaxLogAge     *int    `toml:"max_log_age" yaml:"max_log_age" json:"max_log_age"`
	Port          *int    `toml:"port" yaml:"port" json:"port"`
	KeyDelayMs    *int    `toml:"key_delay_ms" yaml:"key_delay_ms" json:"key_delay_ms"`
	StartDelayMs  *int    `toml:"start_delay_ms" yaml:"start_delay_ms" json:"start_delay_ms"`
	MaxWindowWalk *int    `toml:"max_window_walk" yaml:"max_window_walk" json:"max_window_walk"`
	Hotkey        *string `toml:"hotkey" yaml:"hotkey" json:"hotkey"`
}

// decodeFile parses path by extension: .yaml/.yml as YAML, .json as JSON and
// anything else as TOML. Unknown keys are an error in every format.
func decodeFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode YAML %s: %w", path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return nil, fmt.Errorf("decode JSON %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("decode TOML %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
		}
	}
	return &fc, nil
}

// LoadFile applies settings from a config file to c. Keys whose flag the user
// set explicitly (reported by changed) keep the flag value. A nil changed
// lets every key in the file win.
func LoadFile(path string, c *Config, changed func(flag string) bool) error {
	fc, err := decodeFile(path)
	if err != nil {
		return err
	}
	if changed == nil {
		changed = func(string) bool { return false }
	}

	setBool(&c.Debug, fc.Debug, changed("debug"))
	setString(&c.LogFormat, fc.LogFormat, changed("log-format"))
	setString(&c.LogFile, fc.LogFile, changed("log-file"))
	setBool(&c.LogRotate, fc.LogRotate, changed("log-rotate"))
	setInt(&c.MaxLogSize, fc.MaxLogSize, changed("max-log-size"))
	setInt(&c.MaxLogAge, fc.MaxLogAge, changed("max-log-age"))
	setInt(&c.Port, fc.Port, changed("port"))
	setInt(&c.KeyDelayMs, fc.KeyDelayMs, changed("key-delay"))
	setInt(&c.StartDelayMs, fc.StartDelayMs, changed("start-delay"))
	setInt(&c.MaxWindowWalk, fc.MaxWindowWalk, changed("max-window-walk"))
	setString(&c.Hotkey, fc.Hotkey, changed("hotkey"))
	c.ConfigFile = path
	return nil
}

func setBool(dst *bool, v *bool, flagSet bool) {
	if v != nil && !flagSet {
		*dst = *v
	}
}

func setString(dst *string, v *string, flagSet bool) {
	if v != nil && !flagSet {
		*dst = *v
	}
}

func setInt(dst *int, v *int, flagSet bool) {
	if v != nil && !flagSet {
		*dst = *v
	}
}

// InitLogger builds the process logger. Debug mode logs to stdout; otherwise
// logs go to the log file if one is configured and are discarded if not.
func InitLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = io.Discard
	if cfg.Debug {
		w = os.Stdout
	}

	if cfg.LogFile != "" {
		f, err := setupLogFile(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to open log file: %v\n", err)
		} else if cfg.Debug {
			w = io.MultiWriter(os.Stdout, f)
		} else {
			w = f
		}
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func setupLogFile(cfg *Config) (*os.File, error) {
	if dir := filepath.Dir(cfg.LogFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.LogRotate {
		if err := rotateLogIfNeeded(cfg); err != nil {
			return nil, err
		}
		if err := cleanupOldLogs(cfg); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logFileMu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logFileMu.Unlock()
	return f, nil
}

// rotateLogIfNeeded renames the log file with a timestamp suffix once it
// exceeds MaxLogSize.
func rotateLogIfNeeded(cfg *Config) error {
	info, err := os.Stat(cfg.LogFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < int64(cfg.MaxLogSize)*1024*1024 {
		return nil
	}

	rotated := cfg.LogFile + "." + time.Now().Format("2006-01-02T15-04-05")
	if err := os.Rename(cfg.LogFile, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// cleanupOldLogs removes rotated logs older than MaxLogAge days.
func cleanupOldLogs(cfg *Config) error {
	matches, err := filepath.Glob(cfg.LogFile + ".*")
	if err != nil {
		return fmt.Errorf("failed to list rotated logs: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(cfg.MaxLogAge) * 24 * time.Hour)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(m)
		}
	}
	return nil
}

// CloseLogFile closes the log file opened by InitLogger, if any.
func CloseLogFile() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func checkPortAvailable(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is not available: %w", port, err)
	}
	return l.Close()
}

// CheckPortAvailable reports whether the bridge port can be bound.
func (c *Config) CheckPortAvailable() error {
	if c.Port == 0 {
		return checkPortAvailable(DefaultPort)
	}
	return checkPortAvailable(c.Port)
}
