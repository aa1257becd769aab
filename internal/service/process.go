package service

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joncrangle/win-autotype/internal/config"
	"github.com/joncrangle/win-autotype/internal/websocket"

	"golang.org/x/sys/windows"
)

const statusProbeTimeout = 2 * time.Second

func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() {
		_ = windows.CloseHandle(handle)
	}()

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}

	// STILL_ACTIVE
	return exitCode == 259
}

// runFlags are the settings the hidden run command accepts.
var runFlags = []struct {
	name  string
	value func(c *config.Config) string
}{
	{"port", func(c *config.Config) string { return strconv.Itoa(c.Port) }},
	{"hotkey", func(c *config.Config) string { return c.Hotkey }},
	{"key-delay", func(c *config.Config) string { return strconv.Itoa(c.KeyDelayMs) }},
	{"max-window-walk", func(c *config.Config) string { return strconv.Itoa(c.MaxWindowWalk) }},
	{"debug", func(c *config.Config) string { return strconv.FormatBool(c.Debug) }},
	{"log-file", func(c *config.Config) string { return c.LogFile }},
	{"log-format", func(c *config.Config) string { return c.LogFormat }},
	{"log-rotate", func(c *config.Config) string { return strconv.FormatBool(c.LogRotate) }},
	{"max-log-size", func(c *config.Config) string { return strconv.Itoa(c.MaxLogSize) }},
	{"max-log-age", func(c *config.Config) string { return strconv.Itoa(c.MaxLogAge) }},
}

// runArgs builds the arguments of the hidden run command. Only flags the user
// set are forwarded; everything else comes from the config file or the
// defaults, so the child tells explicit flags apart from file values the same
// way the parent does.
func runArgs(cfg *config.Config) []string {
	args := []string{"run"}
	if cfg.ConfigFile != "" {
		args = append(args, "--config="+cfg.ConfigFile)
	}
	for _, f := range runFlags {
		if cfg.FlagSet(f.name) {
			args = append(args, fmt.Sprintf("--%s=%s", f.name, f.value(cfg)))
		}
	}
	return args
}

func Start(cfg *config.Config) error {
	if pidBytes, err := os.ReadFile(config.PidFile); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes))); err == nil {
			if IsProcessRunning(pid) {
				return fmt.Errorf("service already running (PID %d)", pid)
			}
			os.Remove(config.PidFile)
		}
	}

	if err := cfg.CheckPortAvailable(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := runArgs(cfg)

	if cfg.Debug {
		// Foreground for debugging.
		cmd := exec.Command(exe, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if err := writePidFile(cmd.Process.Pid); err != nil {
		if killErr := cmd.Process.Kill(); killErr != nil {
			return fmt.Errorf("service started but failed to write PID file (%v) and failed to cleanup process (%v)", err, killErr)
		}
		return fmt.Errorf("service started but failed to write PID file: %w", err)
	}

	fmt.Printf("🚀 Service started in background (PID %d)\n", cmd.Process.Pid)
	return nil
}

// writePidFile creates the PID file, failing if one already exists so two
// starts racing each other cannot both claim it.
func writePidFile(pid int) error {
	f, err := os.OpenFile(config.PidFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("pid file already exists: %s", config.PidFile)
		}
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		f.Close()
		os.Remove(config.PidFile)
		return err
	}
	return f.Close()
}

func Stop() error {
	pidBytes, err := os.ReadFile(config.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("service not running (no PID file found)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		if removeErr := os.Remove(config.PidFile); removeErr != nil {
			return fmt.Errorf("invalid PID file (%v) and failed to cleanup (%v)", err, removeErr)
		}
		return fmt.Errorf("invalid PID file: %w", err)
	}

	if !IsProcessRunning(pid) {
		if removeErr := os.Remove(config.PidFile); removeErr != nil {
			return fmt.Errorf("process not running and failed to cleanup stale PID file: %w", removeErr)
		}
		return fmt.Errorf("process not running (cleaned up stale PID file)")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		if removeErr := os.Remove(config.PidFile); removeErr != nil {
			return fmt.Errorf("process not found (%v) and failed to cleanup PID file (%v)", err, removeErr)
		}
		return fmt.Errorf("process not found: %w", err)
	}

	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to stop process (PID %d): %w", pid, err)
	}

	if err := os.Remove(config.PidFile); err != nil {
		fmt.Printf("⚠️  Service stopped (PID %d) but failed to cleanup PID file: %v\n", pid, err)
	} else {
		fmt.Printf("✅ Service stopped (PID %d)\n", pid)
	}
	return nil
}

// GetEnhancedStatus reads the PID file and, when the process is alive, pings
// its bridge on port. A stale PID file is removed.
func GetEnhancedStatus(port int) (bool, int, *StatusInfo, error) {
	pidBytes, err := os.ReadFile(config.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil, nil
		}
		return false, 0, nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		if removeErr := os.Remove(config.PidFile); removeErr != nil {
			return false, 0, nil, fmt.Errorf("invalid PID file (%v) and failed to cleanup (%v)", err, removeErr)
		}
		return false, 0, nil, fmt.Errorf("invalid PID file (cleaned up): %w", err)
	}

	if IsProcessRunning(pid) {
		if port == 0 {
			port = config.DefaultPort
		}
		info := &StatusInfo{Port: port}
		if pong, err := websocket.Probe(port, statusProbeTimeout); err != nil {
			info.BridgeError = err.Error()
		} else {
			info.BridgeReachable = true
			info.BridgeState = pong.Status
		}
		return true, pid, info, nil
	}

	if removeErr := os.Remove(config.PidFile); removeErr != nil {
		return false, pid, nil, fmt.Errorf("stale PID file found but failed to cleanup: %w", removeErr)
	}
	return false, pid, nil, nil
}

type StatusInfo struct {
	Port            int
	BridgeReachable bool
	BridgeState     string
	BridgeError     string
}
