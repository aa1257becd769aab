package autotype

import (
	"log/slog"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/lxn/win"
)

// modifierKeys are released before typing, in this order.
var modifierKeys = []uint16{win.VK_SHIFT, win.VK_MENU, win.VK_CONTROL, win.VK_CAPITAL}

// Injector types text into the foreground window with SendInput.
type Injector struct {
	platform Platform
	logger   *slog.Logger
	keyDelay time.Duration
	sleep    func(time.Duration)
}

// NewInjector creates an injector. keyDelay is slept after every injected
// event; zero disables it.
func NewInjector(platform Platform, logger *slog.Logger, keyDelay time.Duration) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		platform: platform,
		logger:   logger,
		keyDelay: keyDelay,
		sleep:    time.Sleep,
	}
}

// send injects one event and reports whether SendInput accepted it.
func (in *Injector) send(ev KeyEvent) bool {
	err := in.platform.SendInput(ev)
	if in.keyDelay > 0 {
		in.sleep(in.keyDelay)
	}
	if err != nil {
		in.logger.Debug("SendInput failed",
			slog.Uint64("vk", uint64(ev.VK)),
			slog.Bool("unicode", ev.IsUnicode()),
			slog.Bool("key_up", ev.Up),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (in *Injector) setVirtualKey(vk uint16, pressed bool) bool {
	return in.send(KeyEvent{VK: vk, Up: !pressed})
}

// ReleaseModifiers sends key up for Shift, Alt, Control and Caps Lock so a
// chord the user is still holding does not leak into typed text. It changes
// OS-wide keyboard state and always returns nil.
func (in *Injector) ReleaseModifiers() error {
	failed := 0
	for _, vk := range modifierKeys {
		if !in.setVirtualKey(vk, false) {
			failed++
		}
	}
	if failed > 0 {
		in.logger.Debug("Some modifier releases failed", slog.Int("failed", failed))
	}
	return nil
}

// SendText types text into the window that has focus when the call starts.
//
// Before every character the foreground window is checked again; if it
// changed, typing stops and SendText returns nil. Events already sent cannot
// be retracted. Individual injection failures are best effort: typing goes
// on, the failures are logged once the text has been attempted and SendText
// still returns nil.
func (in *Injector) SendText(text string) error {
	target := in.platform.ForegroundWindow()
	_ = in.ReleaseModifiers()

	// The layout is resolved once and assumed stable for the whole call.
	threadID, _ := in.platform.WindowThreadProcessID(target)
	layout := in.platform.KeyboardLayout(threadID)

	failed := 0
	typed := 0
	for _, r := range text {
		if current := in.platform.ForegroundWindow(); current != target {
			in.logger.Debug("Foreground window changed, stopping autotype",
				slog.Uint64("target_hwnd", uint64(target)),
				slog.Uint64("current_hwnd", uint64(current)),
				slog.Int("typed", typed),
				slog.Int("remaining", utf8.RuneCountInString(text)-typed))
			return nil
		}
		failed += in.sendChar(r, layout)
		typed++
	}

	if failed > 0 {
		in.logger.Warn("Some key events were not injected",
			slog.Int("failed_events", failed),
			slog.Int("typed", typed))
	}
	return nil
}

// SendLogin types username, presses Tab, then types password. Failures of
// any phase are logged and swallowed so the sequence runs as far as it can.
func (in *Injector) SendLogin(username, password string) error {
	_ = in.SendText(username)

	tabDown := in.setVirtualKey(win.VK_TAB, true)
	tabUp := in.setVirtualKey(win.VK_TAB, false)
	if !tabDown || !tabUp {
		in.logger.Warn("Tab between username and password was not injected")
	}

	_ = in.SendText(password)
	return nil
}

// sendChar types one character and returns the number of failed events.
// NUL is skipped; it is not text.
func (in *Injector) sendChar(r rune, layout KeyboardLayout) int {
	if r == 0 {
		return 0
	}
	if r <= 0xFFFF {
		if m, ok := decodeKeyScan(in.platform.VkKeyScan(uint16(r), layout)); ok {
			return in.sendCharAsVirtual(m)
		}
	}
	return in.sendCharAsUnicode(r)
}

// sendCharAsVirtual brackets the key with exactly the modifiers the mapping
// needs. Modifiers are released before returning.
func (in *Injector) sendCharAsVirtual(m KeyMapping) int {
	failed := 0
	press := func(vk uint16, pressed bool) {
		if !in.setVirtualKey(vk, pressed) {
			failed++
		}
	}

	if m.Shift {
		press(win.VK_SHIFT, true)
	}
	if m.Ctrl {
		press(win.VK_CONTROL, true)
	}
	if m.Alt {
		press(win.VK_MENU, true)
	}

	press(m.VK, true)
	press(m.VK, false)

	if m.Shift {
		press(win.VK_SHIFT, false)
	}
	if m.Ctrl {
		press(win.VK_CONTROL, false)
	}
	if m.Alt {
		press(win.VK_MENU, false)
	}
	return failed
}

// sendCharAsUnicode injects the UTF-16 units of r directly, bypassing the
// keyboard layout. Characters outside the BMP are sent as a surrogate pair.
func (in *Injector) sendCharAsUnicode(r rune) int {
	failed := 0
	for _, unit := range utf16.Encode([]rune{r}) {
		if !in.send(KeyEvent{Unicode: unit}) {
			failed++
		}
		if !in.send(KeyEvent{Unicode: unit, Up: true}) {
			failed++
		}
	}
	return failed
}
