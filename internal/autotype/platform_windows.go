package autotype

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procGetWindow           = user32.NewProc("GetWindow")
	procGetWindowText       = user32.NewProc("GetWindowTextW")
	procGetKeyboardLayout   = user32.NewProc("GetKeyboardLayout")
	procVkKeyScanEx         = user32.NewProc("VkKeyScanExW")
	procGetMessageExtraInfo = user32.NewProc("GetMessageExtraInfo")
)

const gwHwndNext = 2

// keyboardInput mirrors the Win32 INPUT union with its keyboard member. The
// tail pads the union up to the size of MOUSEINPUT, its largest member.
type keyboardInput struct {
	Type uint32
	Ki   win.KEYBDINPUT
	_    [8]byte
}

var expectedInputSize = unsafe.Offsetof(keyboardInput{}.Ki) + unsafe.Sizeof(win.MOUSEINPUT{})

// WinPlatform implements Platform with user32 and kernel32.
type WinPlatform struct{}

// NewPlatform returns the Win32 platform.
func NewPlatform() *WinPlatform {
	return &WinPlatform{}
}

func (WinPlatform) ForegroundWindow() win.HWND {
	return win.GetForegroundWindow()
}

func (WinPlatform) NextWindow(hWnd win.HWND) win.HWND {
	ret, _, _ := procGetWindow.Call(uintptr(hWnd), gwHwndNext)
	return win.HWND(ret)
}

func (WinPlatform) IsWindowVisible(hWnd win.HWND) bool {
	return win.IsWindowVisible(hWnd)
}

func (WinPlatform) WindowThreadProcessID(hWnd win.HWND) (uint32, uint32) {
	var pid uint32
	tid := win.GetWindowThreadProcessId(hWnd, &pid)
	return tid, pid
}

func (WinPlatform) WindowText(hWnd win.HWND, buf []uint16) {
	if len(buf) == 0 {
		return
	}
	// GetWindowTextW always terminates, even for an empty title or a failed call.
	buf[0] = 0
	_, _, _ = procGetWindowText.Call(uintptr(hWnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
}

func (WinPlatform) KeyboardLayout(threadID uint32) KeyboardLayout {
	ret, _, _ := procGetKeyboardLayout.Call(uintptr(threadID))
	return KeyboardLayout(ret)
}

func (WinPlatform) VkKeyScan(ch uint16, layout KeyboardLayout) int16 {
	ret, _, _ := procVkKeyScanEx.Call(uintptr(ch), uintptr(layout))
	return int16(ret)
}

// SendInput submits one keyboard event. Events carry the calling thread's
// message extra info, as SendInput documents for synthesized input.
func (WinPlatform) SendInput(ev KeyEvent) error {
	if unsafe.Sizeof(keyboardInput{}) != expectedInputSize {
		return fmt.Errorf("keyboardInput struct size=%d expected=%d", unsafe.Sizeof(keyboardInput{}), expectedInputSize)
	}

	extraInfo, _, _ := procGetMessageExtraInfo.Call()
	in := keyboardInput{
		Type: win.INPUT_KEYBOARD,
		Ki: win.KEYBDINPUT{
			WVk:         ev.VK,
			DwExtraInfo: extraInfo,
		},
	}
	if ev.IsUnicode() {
		in.Ki.WVk = 0
		in.Ki.WScan = ev.Unicode
		in.Ki.DwFlags = win.KEYEVENTF_UNICODE
	}
	if ev.Up {
		in.Ki.DwFlags |= win.KEYEVENTF_KEYUP
	}

	if win.SendInput(1, unsafe.Pointer(&in), int32(unsafe.Sizeof(in))) != 1 {
		return fmt.Errorf("SendInput failed: %w", syscall.Errno(win.GetLastError()))
	}
	return nil
}

// ProcessImagePath reads the full image path of pid into buf.
func (WinPlatform) ProcessImagePath(pid uint32, buf []uint16) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("empty buffer for pid %d", pid)
	}
	var n int
	err := withProcess(pid, windows.PROCESS_QUERY_LIMITED_INFORMATION, func(h windows.Handle) error {
		size := uint32(len(buf))
		if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
			return fmt.Errorf("QueryFullProcessImageName pid %d: %w", pid, err)
		}
		n = int(size)
		return nil
	})
	return n, err
}

// withProcess opens pid, runs fn and closes the handle on every path.
func withProcess(pid uint32, access uint32, fn func(h windows.Handle) error) error {
	h, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		return fmt.Errorf("OpenProcess pid %d: %w", pid, err)
	}
	defer func() {
		_ = windows.CloseHandle(h)
	}()
	return fn(h)
}
