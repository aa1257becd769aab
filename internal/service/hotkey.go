package service

import (
	"fmt"
	"log/slog"

	"github.com/joncrangle/win-autotype/internal/config"
)

// shortcut is the registered global autotype hotkey.
type shortcut struct {
	hotkey config.Hotkey
	stop   func() error
}

// setHotkey registers hotkey in place of the current shortcut. An empty hotkey
// releases it. The new chord is registered before the old one is released, so
// a failed change keeps the previous shortcut working.
func (s *Service) setHotkey(hotkey string) error {
	var hk config.Hotkey
	if hotkey != "" {
		parsed, err := config.ParseHotkey(hotkey)
		if err != nil {
			return err
		}
		hk = parsed
	}

	s.hotkeyMu.Lock()
	defer s.hotkeyMu.Unlock()

	old := s.shortcut
	if hotkey != "" && old != nil && old.hotkey == hk {
		return nil
	}

	var next *shortcut
	if hotkey != "" {
		stop, err := s.platform.RegisterHotkey(hk.Modifiers(), hk.VK, s.shortcutPressed)
		if err != nil {
			return fmt.Errorf("unable to register autotype shortcut %s: %w", hk, err)
		}
		next = &shortcut{hotkey: hk, stop: stop}
	}
	s.shortcut = next

	if old != nil {
		if err := old.stop(); err != nil {
			s.logger.Warn("Failed to release autotype shortcut",
				slog.String("hotkey", old.hotkey.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// activeHotkey returns the registered shortcut, false when there is none.
func (s *Service) activeHotkey() (config.Hotkey, bool) {
	s.hotkeyMu.Lock()
	defer s.hotkeyMu.Unlock()
	if s.shortcut == nil {
		return config.Hotkey{}, false
	}
	return s.shortcut.hotkey, true
}

// shortcutPressed runs on the hotkey message loop and hands the press to
// MainLoop. Presses arriving while one is pending are dropped.
func (s *Service) shortcutPressed() {
	select {
	case s.presses <- struct{}{}:
	default:
	}
}

func (s *Service) releaseShortcut() {
	if err := s.setHotkey(""); err != nil {
		s.logger.Warn("Failed to release autotype shortcut", slog.String("error", err.Error()))
	}
}
