package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	ws "golang.org/x/net/websocket"

	"github.com/joncrangle/win-autotype/internal/autotype"
	"github.com/joncrangle/win-autotype/internal/config"
	"github.com/joncrangle/win-autotype/internal/websocket"
)

// mainLoopTick paces the health check in MainLoop.
const mainLoopTick = time.Minute

type Service struct {
	logger   *slog.Logger
	config   *config.Config
	state    *websocket.BridgeState
	platform autotype.Platform
	autotype *Autotype

	hotkeyMu sync.Mutex
	shortcut *shortcut // nil when no shortcut is registered
	presses  chan struct{}
}

func NewService(cfg *config.Config) (*Service, error) {
	return newService(cfg, autotype.NewPlatform(), config.InitLogger(cfg))
}

func newService(cfg *config.Config, p autotype.Platform, logger *slog.Logger) (*Service, error) {
	at := NewAutotype(p, logger, cfg)

	state := &websocket.BridgeState{
		State:     "stopped",
		PID:       os.Getpid(),
		Clients:   make(map[*ws.Conn]bool),
		Logger:    logger,
		Autotyper: at,
	}

	s := &Service{
		logger:   logger,
		config:   cfg,
		state:    state,
		platform: p,
		autotype: at,
		presses:  make(chan struct{}, 1),
	}

	if err := s.setHotkey(cfg.Hotkey); err != nil {
		logger.Error("Unable to register autotype shortcut",
			slog.String("hotkey", cfg.Hotkey),
			slog.String("error", err.Error()))
		return nil, err
	}
	return s, nil
}

// reloadConfig re-reads the config file and applies the settings that can
// change while running: key delay, window walk limit and hotkey. Flags set on
// the command line keep their values. Port and logging need a restart. An
// invalid file is logged and ignored.
func (s *Service) reloadConfig() {
	next := *s.config
	if err := config.LoadFile(s.config.ConfigFile, &next, s.config.FlagSet); err != nil {
		s.logger.Warn("Config reload failed", slog.String("error", err.Error()))
		return
	}
	if err := next.Validate(); err != nil {
		s.logger.Warn("Reloaded config is invalid, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	if err := s.setHotkey(next.Hotkey); err != nil {
		s.logger.Warn("Reloaded hotkey could not be applied, keeping current settings",
			slog.String("error", err.Error()))
		return
	}
	s.autotype.Reconfigure(&next)

	s.logger.Info("Config reloaded",
		slog.String("path", s.config.ConfigFile),
		slog.String("hotkey", next.Hotkey),
		slog.Int("key_delay_ms", next.KeyDelayMs),
		slog.Int("max_window_walk", next.MaxWindowWalk))
}

func (s *Service) SetState(newState string, emit bool) {
	s.state.Mutex.Lock()
	s.state.State = newState
	currentPID := s.state.PID
	currentState := s.state.State
	s.state.Mutex.Unlock()

	if emit {
		websocket.Broadcast(&websocket.Event{
			Type:    websocket.TypeStatus,
			Status:  currentState,
			PID:     currentPID,
			OK:      true,
			Message: fmt.Sprintf("State changed to %s", currentState),
		}, s.state)
	}
	s.logger.Info("Service state changed",
		slog.String("state", currentState),
		slog.Int("pid", currentPID))
}

// MainLoop handles shortcut presses and periodic health checks until ctx is
// done.
func (s *Service) MainLoop(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var lastHealthCheck time.Time
	const healthCheckInterval = 5 * time.Minute

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Main loop panic recovered", slog.Any("error", r))
			if ctx.Err() != nil {
				return
			}
			time.Sleep(10 * time.Second)
			if ctx.Err() == nil {
				s.logger.Info("Attempting to restart main loop after panic")
				go s.MainLoop(ctx, tick)
			}
		}
	}()

	shortcutName := "none"
	if hk, ok := s.activeHotkey(); ok {
		shortcutName = hk.String()
	}
	s.logger.Info("Main loop started",
		slog.Duration("interval", tick),
		slog.String("shortcut", shortcutName))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Main loop stopping")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				s.logger.Info("Main loop stopping due to context cancellation")
				return
			}

			now := time.Now()
			if now.Sub(lastHealthCheck) >= healthCheckInterval {
				s.performHealthCheck()
				lastHealthCheck = now
			}
		case <-s.presses:
			s.onShortcut()
		}
	}
}

// onShortcut tells bridge clients which window the user wants filled.
func (s *Service) onShortcut() int {
	url, err := s.autotype.ActiveWindowURL()
	if err != nil {
		s.logger.Warn("Autotype shortcut pressed but the active window could not be identified",
			slog.String("error", err.Error()))
		return websocket.Broadcast(&websocket.Event{
			Type:  websocket.TypeShortcut,
			PID:   s.state.PID,
			OK:    false,
			Error: err.Error(),
		}, s.state)
	}

	n := websocket.Broadcast(&websocket.Event{
		Type: websocket.TypeShortcut,
		PID:  s.state.PID,
		OK:   true,
		URL:  url,
	}, s.state)

	if n == 0 {
		s.logger.Warn("Autotype shortcut pressed with no bridge clients connected")
	} else {
		s.logger.Debug("Autotype shortcut broadcast", slog.Int("clients", n))
	}
	return n
}

func (s *Service) performHealthCheck() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Health check panic recovered", slog.Any("error", r))
		}
	}()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	if memStats.Alloc > 100*1024*1024 {
		s.logger.Warn("High memory usage detected",
			slog.Uint64("alloc_mb", memStats.Alloc/1024/1024))
		runtime.GC()
	}

	goroutineCount := runtime.NumGoroutine()
	if goroutineCount > 50 {
		s.logger.Warn("High goroutine count", slog.Int("count", goroutineCount))
	}

	s.state.Mutex.RLock()
	clientCount := len(s.state.Clients)
	requests := s.state.Requests
	failures := s.state.Failures
	s.state.Mutex.RUnlock()

	s.logger.Debug("Health check completed",
		slog.Uint64("memory_mb", memStats.Alloc/1024/1024),
		slog.Int("goroutines", goroutineCount),
		slog.Int("bridge_clients", clientCount),
		slog.Int("requests", requests),
		slog.Int("failures", failures))
}

func (s *Service) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := s.config.Port
	if port == 0 {
		port = config.DefaultPort
	}
	if err := websocket.StartServer(port, s.state); err != nil {
		s.releaseShortcut()
		return fmt.Errorf("failed to start autotype bridge: %w", err)
	}

	s.SetState("running", true)

	if s.config.ConfigFile != "" {
		if err := config.Watch(ctx, s.config.ConfigFile, s.logger, s.reloadConfig); err != nil {
			s.logger.Warn("Config file changes will not be applied until restart",
				slog.String("error", err.Error()))
		}
	}

	go s.MainLoop(ctx, mainLoopTick)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	s.logger.Info("Shutting down service")
	cancel()
	s.releaseShortcut()
	s.SetState("stopped", true)
	websocket.StopServer()

	config.CloseLogFile()

	time.Sleep(500 * time.Millisecond)
	return nil
}
