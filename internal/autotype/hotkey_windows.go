package autotype

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

var (
	procRegisterHotKey    = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey  = user32.NewProc("UnregisterHotKey")
	procPostThreadMessage = user32.NewProc("PostThreadMessageW")
)

const (
	modNoRepeat = 0x4000

	// Application hotkey ids live below 0xC000.
	maxHotkeyID       = 0xBFFF
	hotkeyStopTimeout = 2 * time.Second
)

var lastHotkeyID atomic.Int32

func init() {
	lastHotkeyID.Store(0x4000)
}

type hotkeyReady struct {
	threadID uint32
	err      error
}

// RegisterHotkey claims the shortcut on a dedicated OS thread. WM_HOTKEY is
// posted to the registering thread, so that thread runs the message loop
// until stop posts WM_QUIT to it. Auto-repeat is suppressed.
func (WinPlatform) RegisterHotkey(modifiers uint32, vk uint16, onPress func()) (func() error, error) {
	if onPress == nil {
		return nil, errors.New("hotkey callback is required")
	}
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("user32.dll is unavailable: %w", err)
	}

	id := lastHotkeyID.Add(1)
	if id > maxHotkeyID {
		return nil, fmt.Errorf("hotkey id range exhausted (id=%d)", id)
	}

	ready := make(chan hotkeyReady, 1)
	done := make(chan struct{})
	go runHotkeyLoop(id, modifiers|modNoRepeat, vk, onPress, ready, done)

	r := <-ready
	if r.err != nil {
		return nil, r.err
	}

	var (
		once    sync.Once
		stopErr error
	)
	stop := func() error {
		once.Do(func() {
			stopErr = postQuit(r.threadID)
			timer := time.NewTimer(hotkeyStopTimeout)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				stopErr = errors.Join(stopErr, fmt.Errorf("hotkey message loop stop timed out (id=%d)", id))
			}
		})
		return stopErr
	}
	return stop, nil
}

func runHotkeyLoop(id int32, modifiers uint32, vk uint16, onPress func(), ready chan<- hotkeyReady, done chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	// Forces creation of the thread message queue so WM_QUIT can be posted.
	var msg win.MSG
	win.PeekMessage(&msg, 0, 0, 0, win.PM_NOREMOVE)

	if err := registerHotKey(id, modifiers, vk); err != nil {
		ready <- hotkeyReady{err: err}
		return
	}
	defer func() {
		_, _, _ = procUnregisterHotKey.Call(0, uintptr(id))
	}()

	ready <- hotkeyReady{threadID: win.GetCurrentThreadId()}

	for {
		switch win.GetMessage(&msg, 0, 0, 0) {
		case 0, -1:
			// WM_QUIT or a broken queue.
			return
		}
		if msg.Message == win.WM_HOTKEY && int32(msg.WParam) == id {
			onPress()
		}
	}
}

func registerHotKey(id int32, modifiers uint32, vk uint16) error {
	res, _, err := procRegisterHotKey.Call(0, uintptr(id), uintptr(modifiers), uintptr(vk))
	if res != 0 {
		return nil
	}
	if errors.Is(err, windows.ERROR_HOTKEY_ALREADY_REGISTERED) {
		return fmt.Errorf("shortcut is already registered by another program: %w", err)
	}
	if err == syscall.Errno(0) {
		return errors.New("RegisterHotKey failed")
	}
	return fmt.Errorf("RegisterHotKey: %w", err)
}

func postQuit(threadID uint32) error {
	res, _, err := procPostThreadMessage.Call(uintptr(threadID), win.WM_QUIT, 0, 0)
	if res != 0 {
		return nil
	}
	if err == syscall.Errno(0) {
		return errors.New("PostThreadMessageW failed")
	}
	return fmt.Errorf("PostThreadMessageW: %w", err)
}
