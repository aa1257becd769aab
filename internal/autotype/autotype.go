// Package autotype types credentials into the focused window and identifies
// the window that will receive them.
//
// All OS access goes through Platform so the typing and identification logic
// can run against a fake in tests. Typing mutates OS-wide keyboard state
// (modifier keys, the input queue); nothing here owns that state.
package autotype

import (
	"errors"

	"github.com/lxn/win"
)

const (
	// WindowURLScheme prefixes every window identity string.
	WindowURLScheme = "windowsapp://"
	// UnknownExecutable replaces the executable name when the owning process
	// cannot be inspected.
	UnknownExecutable = "unknown"

	// maxTextLength bounds title and image path buffers, in UTF-16 units.
	maxTextLength = 1024
	// DefaultMaxWindowWalk bounds the Z-order walk in NextWindowURL.
	DefaultMaxWindowWalk = 1024
)

var (
	ErrNoTitle         = errors.New("window has no title")
	ErrNoVisibleWindow = errors.New("no visible window after the foreground window")
)

// KeyboardLayout is an opaque HKL.
type KeyboardLayout uintptr

// KeyEvent is one synthetic keyboard event. Unicode events carry the UTF-16
// unit in Unicode and leave VK zero.
type KeyEvent struct {
	VK      uint16
	Unicode uint16
	Up      bool
}

// IsUnicode reports whether the event bypasses virtual-key translation.
func (e KeyEvent) IsUnicode() bool {
	return e.VK == 0 && e.Unicode != 0
}

// Platform is the window-management and input-injection service of the OS.
// Window handles are only valid while the window exists and may go stale
// between calls.
type Platform interface {
	ForegroundWindow() win.HWND
	NextWindow(hWnd win.HWND) win.HWND
	IsWindowVisible(hWnd win.HWND) bool
	// WindowThreadProcessID returns the owning thread and process ids, zero
	// when unknown.
	WindowThreadProcessID(hWnd win.HWND) (threadID, processID uint32)
	// WindowText copies the NUL-terminated title into buf, truncating to
	// len(buf)-1 units.
	WindowText(hWnd win.HWND, buf []uint16)
	KeyboardLayout(threadID uint32) KeyboardLayout
	// VkKeyScan returns the VkKeyScanExW result: low byte virtual key, high
	// byte shift state, -1 when the character has no key.
	VkKeyScan(ch uint16, layout KeyboardLayout) int16
	SendInput(event KeyEvent) error
	// ProcessImagePath opens the process with limited query rights, reads the
	// image path into buf and closes the process handle before returning.
	ProcessImagePath(pid uint32, buf []uint16) (int, error)
	// RegisterHotkey claims a system-wide shortcut. modifiers takes the
	// RegisterHotKey MOD_* flags. onPress runs for every press until stop is
	// called and must not block; the chord is consumed and never reaches the
	// focused window. Registration fails when another program owns the chord.
	RegisterHotkey(modifiers uint32, vk uint16, onPress func()) (stop func() error, err error)
}
