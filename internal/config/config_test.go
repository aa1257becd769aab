package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name: "valid config",
			config: Config{
				Port:          8766,
				LogFormat:     "text",
				MaxLogSize:    10,
				MaxLogAge:     30,
				KeyDelayMs:    5,
				MaxWindowWalk: 1024,
				Hotkey:        "ctrl+alt+v",
			},
			expectError: false,
		},
		{
			name:        "valid config minimal",
			config:      Config{},
			expectError: false,
		},
		{
			name:        "invalid port too low",
			config:      Config{Port: 1000},
			expectError: true,
		},
		{
			name:        "invalid port too high",
			config:      Config{Port: 70000},
			expectError: true,
		},
		{
			name:        "invalid log format",
			config:      Config{LogFormat: "invalid"},
			expectError: true,
		},
		{
			name:        "valid json log format",
			config:      Config{LogFormat: "json"},
			expectError: false,
		},
		{
			name:        "log rotation without log file",
			config:      Config{LogRotate: true},
			expectError: true,
		},
		{
			name: "invalid max log size too low",
			config: Config{
				LogFile:    filepath.Join(os.TempDir(), "test.log"),
				LogRotate:  true,
				MaxLogSize: 0,
				MaxLogAge:  30,
			},
			expectError: true,
		},
		{
			name: "invalid max log age too high",
			config: Config{
				LogFile:    filepath.Join(os.TempDir(), "test.log"),
				LogRotate:  true,
				MaxLogSize: 10,
				MaxLogAge:  400,
			},
			expectError: true,
		},
		{
			name: "valid log rotation config",
			config: Config{
				LogFile:    filepath.Join(os.TempDir(), "test.log"),
				LogRotate:  true,
				MaxLogSize: 10,
				MaxLogAge:  30,
			},
			expectError: false,
		},
		{
			name:        "negative key delay",
			config:      Config{KeyDelayMs: -1},
			expectError: true,
		},
		{
			name:        "start delay too long",
			config:      Config{StartDelayMs: 120000},
			expectError: true,
		},
		{
			name:        "negative window walk",
			config:      Config{MaxWindowWalk: -5},
			expectError: true,
		},
		{
			name:        "hotkey without modifier",
			config:      Config{Hotkey: "v"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := &Config{KeyDelayMs: 3, StartDelayMs: 1500}
	if cfg.KeyDelay() != 3*time.Millisecond {
		t.Errorf("unexpected key delay %v", cfg.KeyDelay())
	}
	if cfg.StartDelay() != 1500*time.Millisecond {
		t.Errorf("unexpected start delay %v", cfg.StartDelay())
	}
}

func TestInitLoggerDebugMode(t *testing.T) {
	cfg := &Config{
		Debug:     true,
		LogFormat: "text",
	}

	logger := InitLogger(cfg)
	if logger == nil {
		t.Errorf("expected logger but got nil")
	}
}

func TestInitLoggerJSONFormat(t *testing.T) {
	cfg := &Config{
		Debug:     true,
		LogFormat: "json",
	}

	logger := InitLogger(cfg)
	if logger == nil {
		t.Errorf("expected logger but got nil")
	}
}

func TestInitLoggerWithLogFile(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "test.log")

	cfg := &Config{
		Debug:     false,
		LogFormat: "text",
		LogFile:   logFile,
	}

	logger := InitLogger(cfg)
	if logger == nil {
		t.Fatalf("expected logger but got nil")
	}
	logger.Info("hello")
	CloseLogFile()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file should have been created: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("expected log line in file, got %q", string(data))
	}
}

func TestSetupLogFileError(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "testfile")
	if err := os.WriteFile(tmpFile, []byte("test"), 0o644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	// Use a file as a directory.
	cfg := &Config{LogFile: filepath.Join(tmpFile, "invalid", "test.log")}

	if _, err := setupLogFile(cfg); err == nil {
		t.Error("expected error for invalid log file path")
	}
}

func TestRotateLogIfNeeded(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "test.log")

	content := strings.Repeat("test log line\n", 100000)
	if err := os.WriteFile(logFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test log file: %v", err)
	}

	cfg := &Config{
		LogFile:    logFile,
		MaxLogSize: 1, // 1 MB
	}

	if err := rotateLogIfNeeded(cfg); err != nil {
		t.Fatalf("unexpected error during log rotation: %v", err)
	}
	if _, err := os.Stat(logFile); !os.IsNotExist(err) {
		t.Errorf("expected original log to be renamed")
	}
	rotated, _ := filepath.Glob(logFile + ".*")
	if len(rotated) != 1 {
		t.Errorf("expected one rotated log, got %v", rotated)
	}
}

func TestRotateLogIfNeededNoFile(t *testing.T) {
	cfg := &Config{
		LogFile:    filepath.Join(t.TempDir(), "nonexistent.log"),
		MaxLogSize: 1,
	}

	if err := rotateLogIfNeeded(cfg); err != nil {
		t.Errorf("should not error when file doesn't exist: %v", err)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	tempDir := t.TempDir()
	baseLogFile := filepath.Join(tempDir, "test.log")

	oldLog := baseLogFile + ".2023-01-01T12-00-00"
	newLog := baseLogFile + ".2023-01-02T12-00-00"
	for _, f := range []string{oldLog, newLog} {
		if err := os.WriteFile(f, []byte("log"), 0o644); err != nil {
			t.Fatalf("failed to create log file: %v", err)
		}
	}

	oldTime := time.Now().Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(oldLog, oldTime, oldTime); err != nil {
		t.Fatalf("failed to set mtime for %s: %v", oldLog, err)
	}

	cfg := &Config{
		LogFile:   baseLogFile,
		MaxLogAge: 30,
	}

	if err := cleanupOldLogs(cfg); err != nil {
		t.Fatalf("unexpected error during cleanup: %v", err)
	}
	if _, err := os.Stat(oldLog); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", oldLog)
	}
	if _, err := os.Stat(newLog); err != nil {
		t.Errorf("expected %s to be kept: %v", newLog, err)
	}
}

func TestCheckPortAvailable(t *testing.T) {
	// Port 0 lets the system pick a free port.
	if err := checkPortAvailable(0); err != nil {
		t.Errorf("port 0 should be available: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotype.toml")
	content := `
debug = true
log_format = "json"
port = 9000
key_delay_ms = 4
hotkey = "ctrl+shift+a"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg := &Config{Port: 8800, LogFormat: "text"}
	changed := func(flag string) bool { return flag == "port" }
	if err := LoadFile(path, cfg, changed); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if !cfg.Debug || cfg.LogFormat != "json" || cfg.KeyDelayMs != 4 || cfg.Hotkey != "ctrl+shift+a" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Port != 8800 {
		t.Errorf("explicit flag should win over file, got port %d", cfg.Port)
	}
}

func TestLoadFileKeepsExplicitFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotype.toml")
	if err := os.WriteFile(path, []byte("hotkey = \"ctrl+alt+v\"\nkey_delay_ms = 9\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg := &Config{Hotkey: "ctrl+alt+x", ExplicitFlags: map[string]bool{"hotkey": true}}
	for i := 0; i < 2; i++ {
		if err := LoadFile(path, cfg, cfg.FlagSet); err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
	}
	if cfg.Hotkey != "ctrl+alt+x" {
		t.Errorf("explicit hotkey replaced by file value, got %q", cfg.Hotkey)
	}
	if cfg.KeyDelayMs != 9 {
		t.Errorf("file key delay not applied, got %d", cfg.KeyDelayMs)
	}
	if (&Config{}).FlagSet("hotkey") {
		t.Error("no flag is set on a zero Config")
	}
}

func TestLoadFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotype.toml")
	if err := os.WriteFile(path, []byte("interval = 10\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	err := LoadFile(path, &Config{}, nil)
	if err == nil || !strings.Contains(err.Error(), "interval") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), &Config{}, nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFileFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "yaml", file: "autotype.yaml", content: "port: 9100\nhotkey: ctrl+shift+k\nkey_delay_ms: 7\n"},
		{name: "yml", file: "autotype.yml", content: "port: 9100\nhotkey: ctrl+shift+k\nkey_delay_ms: 7\n"},
		{name: "json", file: "autotype.json", content: `{"port": 9100, "hotkey": "ctrl+shift+k", "key_delay_ms": 7}`},
		{name: "yaml unknown key", file: "bad.yaml", content: "interval: 10\n", wantErr: "interval"},
		{name: "json unknown key", file: "bad.json", content: `{"interval": 10}`, wantErr: "interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			cfg := &Config{}
			err := LoadFile(path, cfg, nil)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if cfg.Port != 9100 || cfg.Hotkey != "ctrl+shift+k" || cfg.KeyDelayMs != 7 {
				t.Errorf("file values not applied: %+v", cfg)
			}
			if cfg.ConfigFile != path {
				t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
			}
		})
	}
}

func TestLoadFileEmptyYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Port: 9000}
	if err := LoadFile(path, cfg, nil); err != nil {
		t.Fatalf("empty file should load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("empty file should not change settings, got port %d", cfg.Port)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autotype.toml")
	if err := os.WriteFile(path, []byte("port = 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 8)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Watch(ctx, path, logger, func() { changes <- struct{}{} }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
		t.Fatal("change reported for an unrelated file")
	case <-time.After(3 * reloadDebounce):
	}

	if err := os.WriteFile(path, []byte("port = 9001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported after writing the config file")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "missing", "autotype.toml")
	if err := Watch(context.Background(), path, logger, func() {}); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}

func TestParseHotkey(t *testing.T) {
	tests := []struct {
		in      string
		want    Hotkey
		wantErr bool
	}{
		{in: "ctrl+alt+v", want: Hotkey{Ctrl: true, Alt: true, VK: 'V'}},
		{in: "Control+Shift+F12", want: Hotkey{Ctrl: true, Shift: true, VK: 0x7B}},
		{in: "win+1", want: Hotkey{Win: true, VK: '1'}},
		{in: "v", wantErr: true},
		{in: "ctrl+", wantErr: true},
		{in: "hyper+v", wantErr: true},
		{in: "ctrl+F25", wantErr: true},
		{in: "ctrl+alt+?", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseHotkey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHotkey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseHotkey(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestHotkeyString(t *testing.T) {
	hk, err := ParseHotkey("CTRL+ALT+V")
	if err != nil {
		t.Fatalf("ParseHotkey: %v", err)
	}
	if hk.String() != "ctrl+alt+v" {
		t.Errorf("unexpected string %q", hk.String())
	}
	hk, _ = ParseHotkey("shift+f5")
	if hk.String() != "shift+f5" {
		t.Errorf("unexpected string %q", hk.String())
	}
}

func TestHotkeyModifiers(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{in: "ctrl+alt+v", want: 0x0003},
		{in: "shift+f5", want: 0x0004},
		{in: "win+ctrl+shift+alt+1", want: 0x000F},
	}

	for _, tt := range tests {
		hk, err := ParseHotkey(tt.in)
		if err != nil {
			t.Fatalf("ParseHotkey(%q): %v", tt.in, err)
		}
		if got := hk.Modifiers(); got != tt.want {
			t.Errorf("%q modifiers = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestPidFileInitialization(t *testing.T) {
	if PidFile == "" {
		t.Errorf("PidFile should be initialized")
	}

	if filepath.Base(PidFile) != "win-autotype.pid" {
		t.Errorf("PidFile should end with win-autotype.pid, got %s", PidFile)
	}
}
